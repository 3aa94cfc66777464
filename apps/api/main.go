package main

import "os"

// DI=manual wires the dependencies by hand; the dig container is used otherwise.
func main() {
	switch os.Getenv("DI") {
	case "manual":
		startManual()
	default:
		startWithDig()
	}
}
