package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"gibbstrack/pkg/field"
	"gibbstrack/pkg/interpolation"
)

func main() {
	output := flag.String("output", "directions.lut", "Lookup table file to write")
	numDirections := flag.Int("directions", 120, "Number of sampling directions on the half sphere")
	resolution := flag.Int("resolution", 64, "Number of theta bins (phi uses twice as many)")
	fieldPath := flag.String("field", "", "Take the sampling directions from this orientation field file")
	flag.Parse()

	dirs := interpolation.SphereDirections(*numDirections)
	if *fieldPath != "" {
		of, err := field.Load(*fieldPath)
		if err != nil {
			log.Fatalf("Failed to load orientation field: %v", err)
		}
		dirs = of.Directions
	}

	fmt.Printf("Generating lookup table for %d directions at resolution %d...\n", len(dirs), *resolution)
	start := time.Now()
	table, err := interpolation.GenerateTable(dirs, *resolution)
	if err != nil {
		log.Fatalf("Failed to generate lookup table: %v", err)
	}
	if err := table.Save(*output); err != nil {
		log.Fatalf("Failed to save lookup table: %v", err)
	}
	fmt.Printf("Lookup table with %d bins saved to %s in %.2f seconds\n", table.Bins(), *output, time.Since(start).Seconds())
}
