package corpus

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/segmentio/parquet-go"
)

// ReadBatch loads an emitted batch, choosing the codec by file extension.
func ReadBatch(path string) ([]Record, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet":
		return ReadParquet(path)
	case ".json":
		return ReadJSON(path)
	default:
		return nil, fmt.Errorf("unsupported batch format: %s", path)
	}
}

// WriteJSON writes records to path as an indented JSON array.
func WriteJSON(path string, records []Record) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create batch file: %w", err)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(records); err != nil {
		file.Close()
		return fmt.Errorf("failed to encode batch: %w", err)
	}

	return file.Close()
}

// ReadJSON reads a JSON array of records from path.
func ReadJSON(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open batch file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	token, err := decoder.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to read batch file: %w", err)
	}
	if delim, ok := token.(json.Delim); !ok || delim != '[' {
		return nil, fmt.Errorf("batch file is not a JSON array: %s", path)
	}

	var records []Record
	for decoder.More() {
		var record Record
		if err := decoder.Decode(&record); err != nil {
			return nil, fmt.Errorf("failed to decode record %d: %w", len(records), err)
		}
		records = append(records, record)
	}

	return records, nil
}

// WriteParquet writes records to path as a Parquet file.
func WriteParquet(path string, records []Record) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create batch file: %w", err)
	}

	writer := parquet.NewWriter(file)
	for i := range records {
		if err := writer.Write(&records[i]); err != nil {
			file.Close()
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}
	if err := writer.Close(); err != nil {
		file.Close()
		return fmt.Errorf("failed to finalize batch file: %w", err)
	}

	return file.Close()
}

// ReadParquet reads all records from a Parquet file at path.
func ReadParquet(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open batch file: %w", err)
	}
	defer file.Close()

	reader := parquet.NewReader(file)
	defer reader.Close()

	var records []Record
	for {
		var record Record
		err := reader.Read(&record)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read record %d: %w", len(records), err)
		}
		records = append(records, record)
	}

	return records, nil
}
