package main

// version задаётся при сборке через -ldflags "-X main.version=..."
var version = "dev"

func main() {
	Execute(version)
}
