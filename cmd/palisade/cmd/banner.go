package cmd

import (
	"fmt"
)

const banner = `
  _____      _ _               _
 |  __ \    | (_)             | |
 | |__) |_ _| |_ ___  __ _  __| | ___
 |  ___/ _` + "`" + ` | | / __|/ _` + "`" + ` |/ _` + "`" + ` |/ _ \
 | |  | (_| | | \__ \ (_| | (_| |  __/
 |_|   \__,_|_|_|___/\__,_|\__,_|\___|

`

func printBanner() {
	fmt.Printf("\x1b[34m%s\x1b[0m", banner)
	fmt.Printf("\x1b[32m  Certificate Authority Platform - Version %s\x1b[0m\n\n", Version)
}
