package menu

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// SeedFromCSV loads dishes from a CSV file into the vector store if it is
// empty. Re-running against a populated store is a no-op, so the seed is
// safe to run on every startup.
//
// Expected columns: Name, Category, Ingredients. The Ingredients column
// holds a list of [name, quantity] pairs in single-quoted JSON, e.g.
// [['spaghetti','400g'],['guanciale','150g']].
//
// Returns the number of dishes inserted.
func (s *Store) SeedFromCSV(ctx context.Context, path string) (int, error) {
	count, err := s.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("checking existing dishes: %w", err)
	}
	if count > 0 {
		s.logger.Info("menu already seeded, skipping", "dishes", count)
		return 0, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening menu file: %w", err)
	}
	defer f.Close()

	docs, err := parseDishes(f)
	if err != nil {
		return 0, fmt.Errorf("parsing menu file %s: %w", path, err)
	}

	inserted := 0
	for _, doc := range docs {
		if err := s.Add(ctx, doc); err != nil {
			return inserted, fmt.Errorf("seeding dish %q: %w", doc.Metadata["Name"], err)
		}
		inserted++
	}

	s.logger.Info("seeded menu", "dishes", inserted, "source", path)
	return inserted, nil
}

// parseDishes reads the dishes CSV into documents.
// Rows that fail to parse are skipped rather than aborting the whole seed.
func parseDishes(r io.Reader) ([]Document, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(name)] = i
	}
	for _, want := range []string{"Name", "Category", "Ingredients"} {
		if _, ok := col[want]; !ok {
			return nil, fmt.Errorf("missing column %q", want)
		}
	}

	var docs []Document
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading record: %w", err)
		}
		if len(record) <= col["Ingredients"] {
			continue
		}

		name := strings.TrimSpace(record[col["Name"]])
		category := strings.TrimSpace(record[col["Category"]])
		rawIngredients := record[col["Ingredients"]]
		if name == "" {
			continue
		}

		ingredients := ingredientNames(rawIngredients)
		content := fmt.Sprintf("%s %s [%s]", name, category, strings.Join(ingredients, ", "))

		docs = append(docs, Document{
			Content: content,
			Metadata: map[string]string{
				"Name":        name,
				"Category":    category,
				"Ingredients": rawIngredients,
			},
		})
	}
	return docs, nil
}

// ingredientNames extracts ingredient names from the single-quoted list of
// [name, quantity] pairs. Malformed input falls back to the raw string.
func ingredientNames(raw string) []string {
	var pairs [][]string
	if err := json.Unmarshal([]byte(strings.ReplaceAll(raw, "'", `"`)), &pairs); err != nil {
		return []string{raw}
	}
	names := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		if len(pair) > 0 {
			names = append(names, pair[0])
		}
	}
	return names
}
