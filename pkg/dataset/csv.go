package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
)

// LoadCSV reads a labeled dataset from a CSV file. The first row is the
// header; the last column is the label, every other column is a field.
// A column is treated as numeric when every cell parses as a float,
// otherwise as categorical.
func LoadCSV(path string) (*Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) < 2 {
		return nil, errors.New("csv needs at least one field column and a label column")
	}

	fieldNames := header[:len(header)-1]

	var rows [][]string
	var labels []string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(record) != len(header) {
			return nil, fmt.Errorf("row %d: expected %d columns, got %d", len(rows)+1, len(header), len(record))
		}
		rows = append(rows, record[:len(record)-1])
		labels = append(labels, record[len(record)-1])
	}
	if len(rows) == 0 {
		return nil, errors.New("csv has no data rows")
	}

	// Infer column kinds from the data.
	kinds := make([]Kind, len(fieldNames))
	for col := range fieldNames {
		kinds[col] = Numeric
		for _, row := range rows {
			if _, err := strconv.ParseFloat(row[col], 64); err != nil {
				kinds[col] = Categorical
				break
			}
		}
	}

	ds := &Dataset{
		Fields:  make([]Field, len(fieldNames)),
		Records: make([]Record, 0, len(rows)),
		Labels:  labels,
	}
	for i, name := range fieldNames {
		ds.Fields[i] = Field{Name: name, Kind: kinds[i]}
	}

	for _, row := range rows {
		rec := make(Record, len(fieldNames))
		for col, name := range fieldNames {
			if kinds[col] == Numeric {
				v, _ := strconv.ParseFloat(row[col], 64)
				rec[name] = v
			} else {
				rec[name] = row[col]
			}
		}
		ds.Records = append(ds.Records, rec)
	}

	return ds, nil
}
