package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"refinery/internal/modelfile"
)

var checkModelWatch bool

var checkModelCmd = &cobra.Command{
	Use:   "check-model <model-file>",
	Short: "Parse a model file and print its channel bindings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		if err := printBindings(path); err != nil {
			if !checkModelWatch {
				return err
			}
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		if !checkModelWatch {
			return nil
		}
		return watchModel(path)
	},
}

func init() {
	checkModelCmd.Flags().BoolVar(&checkModelWatch, "watch", false, "re-check on every change to the model file")
}

func printBindings(path string) error {
	bindings, err := modelfile.Parse(path)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d channel binding(s)\n", path, len(bindings))
	for _, b := range bindings {
		fmt.Printf("  port %-5d  in %-20s out %s\n", b.Port, b.InChannel, b.OutChannel)
	}
	return nil
}

func watchModel(path string) error {
	w, err := modelfile.NewWatcher(path)
	if err != nil {
		return err
	}
	defer w.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	fmt.Println("watching for changes (interrupt to stop)")
	for {
		select {
		case <-w.Events:
			if err := printBindings(path); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
		case err := <-w.Errors:
			fmt.Fprintf(os.Stderr, "watch error: %v\n", err)
		case <-sigCh:
			return nil
		}
	}
}
