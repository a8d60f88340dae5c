package main

import (
	"os"

	"github.com/serenemind/serenemind-backend/chatservice"
)

func main() {
	if err := chatservice.Run(); err != nil {
		os.Exit(1)
	}
}
