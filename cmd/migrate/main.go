package main

import (
	"bufio"
	"crypto/sha256"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
)

const (
	idColumn           = "id"
	defaultTitleColumn = "title"
	defaultBodyColumn  = "clean_content"
	previewChars       = 80
)

func main() {
	if len(os.Args) < 3 {
		log.Fatal("Usage: migrate <add-ids|remove-duplicates> <csv-file> [title-column] [body-column]")
	}

	command := os.Args[1]
	csvPath := os.Args[2]

	switch command {
	case "add-ids":
		titleCol, bodyCol := defaultTitleColumn, defaultBodyColumn
		if len(os.Args) > 3 {
			titleCol = os.Args[3]
		}
		if len(os.Args) > 4 {
			bodyCol = os.Args[4]
		}
		if err := rewriteCSV(csvPath, func(rows [][]string) ([][]string, error) {
			return addIDs(rows, titleCol, bodyCol)
		}); err != nil {
			log.Fatal(err)
		}
	case "remove-duplicates":
		reader := bufio.NewReader(os.Stdin)
		if err := rewriteCSV(csvPath, func(rows [][]string) ([][]string, error) {
			return removeDuplicates(rows, func(id string, row []string) bool {
				return confirmDelete(reader, id, row)
			})
		}); err != nil {
			log.Fatal(err)
		}
	default:
		log.Fatalf("Unknown command %q", command)
	}
}

// rewriteCSV loads path, transforms its rows and replaces the file
func rewriteCSV(path string, transform func([][]string) ([][]string, error)) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	rows, err := csv.NewReader(f).ReadAll()
	f.Close()
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if len(rows) == 0 {
		return fmt.Errorf("%s is empty", path)
	}

	out, err := transform(rows)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	if err := writeRows(tmp, out); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing %s: %w", tmp.Name(), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("syncing %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func writeRows(w io.Writer, rows [][]string) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

// addIDs fills missing ids from a hash of title and body, adding an id
// column in front when the dataset has none. Rows with identical content get
// identical ids; remove-duplicates deals with those.
func addIDs(rows [][]string, titleCol, bodyCol string) ([][]string, error) {
	header := rows[0]
	titleIdx := findColumn(header, titleCol)
	bodyIdx := findColumn(header, bodyCol)
	if titleIdx < 0 || bodyIdx < 0 {
		return nil, fmt.Errorf("missing %q or %q column", titleCol, bodyCol)
	}

	idIdx := findColumn(header, idColumn)
	insert := idIdx < 0

	out := make([][]string, 0, len(rows))
	if insert {
		out = append(out, append([]string{idColumn}, header...))
	} else {
		out = append(out, header)
	}

	added := 0
	seen := make(map[string]int)
	for i, row := range rows[1:] {
		id := generateRecordHash(row[titleIdx], row[bodyIdx])
		switch {
		case insert:
			row = append([]string{id}, row...)
			added++
		case strings.TrimSpace(row[idIdx]) == "":
			row[idIdx] = id
			added++
		default:
			id = strings.TrimSpace(row[idIdx])
		}
		if first, dup := seen[id]; dup {
			log.Printf("Row %d has the same id as row %d (%s)", i+2, first, id)
		} else {
			seen[id] = i + 2
		}
		out = append(out, row)
	}

	log.Printf("Added %d ids", added)
	return out, nil
}

func generateRecordHash(title, body string) string {
	h := sha256.Sum256([]byte(strings.TrimSpace(title) + "\n" + strings.TrimSpace(body)))
	return fmt.Sprintf("%x", h)[:8]
}

func findColumn(header []string, name string) int {
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")), name) {
			return i
		}
	}
	return -1
}

// removeDuplicates keeps the first row of every id and asks confirm about
// each later one
func removeDuplicates(rows [][]string, confirm func(id string, row []string) bool) ([][]string, error) {
	idIdx := findColumn(rows[0], idColumn)
	if idIdx < 0 {
		return nil, fmt.Errorf("missing %q column; run add-ids first", idColumn)
	}

	out := [][]string{rows[0]}
	seen := make(map[string]bool)
	totalRemoved := 0
	for _, row := range rows[1:] {
		id := strings.TrimSpace(row[idIdx])
		if !seen[id] {
			seen[id] = true
			out = append(out, row)
			continue
		}

		if confirm(id, row) {
			totalRemoved++
			fmt.Printf("  REMOVED: %s\n", id)
		} else {
			out = append(out, row)
			fmt.Printf("  SKIP: %s\n", id)
		}
	}

	fmt.Printf("\nRemoved %d duplicate rows\n", totalRemoved)
	return out, nil
}

// previewRow joins row for display, cut to previewChars characters
func previewRow(row []string) string {
	preview := []rune(strings.Join(row, " | "))
	if len(preview) > previewChars {
		return string(preview[:previewChars]) + "..."
	}
	return string(preview)
}

func confirmDelete(reader *bufio.Reader, id string, row []string) bool {
	preview := previewRow(row)
	for {
		fmt.Printf("  DELETE duplicate %s (%s)? [y/N]: ", id, preview)
		input, err := reader.ReadString('\n')
		if err != nil && input == "" {
			log.Printf("Error reading input: %v", err)
			return false
		}
		response := strings.ToLower(strings.TrimSpace(input))
		switch response {
		case "y", "yes":
			return true
		case "", "n", "no":
			return false
		default:
			if err != nil {
				return false
			}
			fmt.Println("  Please enter y or n.")
		}
	}
}
