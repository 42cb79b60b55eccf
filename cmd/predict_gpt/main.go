package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/golangast/gpt/neural/nnu/gobs"
	"github.com/golangast/gpt/neural/nnu/train"
	"github.com/golangast/gpt/neural/nnu/vocab"
)

func main() {
	checkpointPath := flag.String("checkpoint", "checkpoints/final.gob", "Path to a saved checkpoint")
	bestDir := flag.String("best_from", "", "Load the lowest-loss checkpoint from this directory instead of -checkpoint")
	vocabPath := flag.String("vocab", "checkpoints/vocab.gob", "Path to the saved vocabulary")
	prompt := flag.String("prompt", "", "Answer a single prompt and exit; empty starts interactive mode")
	flag.Parse()

	v, err := vocab.Load(*vocabPath)
	if err != nil {
		log.Fatalf("Failed to load vocabulary: %v", err)
	}

	var c *gobs.Checkpoint
	if *bestDir != "" {
		m, merr := gobs.NewManager(*bestDir, false, 0)
		if merr != nil {
			log.Fatalf("Failed to open checkpoint directory: %v", merr)
		}
		c, err = m.LoadBest()
	} else {
		c, err = gobs.LoadCheckpoint(*checkpointPath)
	}
	if err != nil {
		log.Fatalf("Failed to load checkpoint: %v", err)
	}

	model, err := train.ModelFromCheckpoint(c, v)
	if err != nil {
		log.Fatalf("Failed to load model: %v", err)
	}
	log.Printf("Loaded %s checkpoint (epoch %d, loss %.4f, %d parameters)",
		c.Metadata.Phase, c.Epoch, c.Loss, model.TotalParameters())

	if *prompt != "" {
		answer(model.Predict, *prompt)
		return
	}

	fmt.Println("\n--- Interactive Mode ---")
	fmt.Println("Type a prompt and press Enter to generate a response.")
	fmt.Println("Type 'exit' to quit.")
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("\nEnter prompt: ")
		input, err := reader.ReadString('\n')
		input = strings.TrimSpace(input)
		if input == "exit" {
			fmt.Println("Exiting interactive mode.")
			return
		}
		if input != "" {
			answer(model.Predict, input)
		}
		if err != nil {
			return
		}
	}
}

func answer(predict func(string) (string, error), input string) {
	out, err := predict("User: " + input)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("Model output: %s\n", out)
}
