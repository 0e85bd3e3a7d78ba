package main

import "github.com/lparisi/bitbucket-pipeline-monitor/cmd/bitbucket-pipeline/cli"

func main() {
	cli.Execute()
}
