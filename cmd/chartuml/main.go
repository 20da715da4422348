// Package main renders a YAML statechart as a PlantUML diagram.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/stateforward/go-statechart/pkg/chartyaml"
	"github.com/stateforward/go-statechart/pkg/plantuml"
)

func main() {
	var output string
	flag.StringVar(&output, "o", "", "write the diagram to this file instead of stdout")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: chartuml [-o file] [chart.yaml]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := run(flag.Arg(0), output); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(input, output string) error {
	var reader io.Reader = os.Stdin
	if input != "" && input != "-" {
		file, err := os.Open(input)
		if err != nil {
			return fmt.Errorf("open chart: %w", err)
		}
		defer file.Close()
		reader = file
	}
	definition, err := chartyaml.Decode(reader, chartyaml.WithStubs())
	if err != nil {
		return err
	}
	var writer io.Writer = os.Stdout
	if output != "" {
		file, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("create diagram: %w", err)
		}
		defer file.Close()
		writer = file
	}
	return plantuml.Generate(writer, definition)
}
