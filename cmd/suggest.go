package cmd

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/urfave/cli"
	"github.com/xrash/smetrics"
)

type suggestion struct {
	name  string
	score float64
}

func levenshteinRatio(s, t string) float64 {
	lensum := float64(len(s) + len(t))
	if lensum == 0 {
		return 1.0
	}

	dist := float64(smetrics.WagnerFischer(s, t, 1, 1, 2))
	return (lensum - dist) / lensum
}

func findSimilarCommands(cmdName string, cmds []cli.Command) []suggestion {
	similars := []suggestion{}

	for _, cmd := range cmds {
		candidates := []string{cmd.Name}
		candidates = append(candidates, cmd.Aliases...)

		for _, candidate := range candidates {
			if score := levenshteinRatio(cmdName, candidate); score >= 0.6 {
				similars = append(similars, suggestion{
					name:  cmd.Name,
					score: score,
				})
				break
			}
		}
	}

	// Names people know from other file transfer tools:
	staticSuggestions := map[string]string{
		"list":     "ls",
		"download": "get",
		"fetch":    "get",
		"listen":   "serve",
	}

	if name, ok := staticSuggestions[cmdName]; ok {
		similars = append(similars, suggestion{name: name, score: 0.0})
	}

	// Best match first:
	sort.SliceStable(similars, func(i, j int) bool {
		return similars[i].score > similars[j].score
	})

	return similars
}

func commandNotFound(ctx *cli.Context, cmdName string) {
	badCmd := color.RedString(cmdName)
	fmt.Printf("`%s` is neither a valid command nor a port. ", badCmd)

	similars := findSimilarCommands(cmdName, ctx.App.Commands)

	switch len(similars) {
	case 0:
		fmt.Printf("\n")
	case 1:
		suggestion := color.GreenString(similars[0].name)
		fmt.Printf("Did you maybe mean `%s`?\n", suggestion)
	default:
		fmt.Println("\n\nDid you maybe mean one of those?")
		for _, similar := range similars {
			fmt.Printf("  * %s\n", color.GreenString(similar.name))
		}
	}
}
