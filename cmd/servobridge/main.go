package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/autopeer-io/servobridge/cmd/servobridge/app"
)

func main() {
	app.NewApp().Run()
}
