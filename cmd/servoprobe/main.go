package main

import (
	"github.com/autopeer-io/servobridge/cmd/servoprobe/app"
)

func main() {
	app.NewApp().Run()
}
