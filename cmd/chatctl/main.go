package main

import "github.com/tiffinwaleofficial/student-app-sub001/internal/ctl"

func main() {
	ctl.Execute()
}
