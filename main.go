package main

import "github.com/Kwendataxi/kwenda-sub020/cmd"

func main() {
	cmd.Execute()
}
