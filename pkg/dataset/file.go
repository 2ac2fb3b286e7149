package dataset

import (
	"context"
	"fmt"
	"os"
)

type fileSource struct {
	path      string
	textField string
}

// NewFile reads a local JSON Lines file. The dataset name and split are ignored.
func NewFile(path, textField string) Source {
	return &fileSource{path: path, textField: textField}
}

func (s *fileSource) Load(_ context.Context, _, _ string, limit int) ([]string, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset file: %w", err)
	}
	defer f.Close()
	return readJSONL(f, s.textField, limit)
}
