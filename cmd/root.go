package main

import (
	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "planforge"}

	root.AddCommand(planCMD(), serveCMD(), migrateCMD())
	_ = root.Execute()
}
