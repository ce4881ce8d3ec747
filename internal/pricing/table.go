package pricing

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrRateNotFound indicates the cost table has no row for a model, a
// deployment misconfiguration rather than a caller mistake.
var ErrRateNotFound = errors.New("pricing: rate not found")

// Direction distinguishes prompt tokens from completion tokens.
type Direction string

const (
	Input  Direction = "input"
	Output Direction = "output"
)

type rateKey struct {
	model     string
	region    string
	direction Direction
}

// Table holds per-model token rates loaded from the cost CSV. Rows with
// an empty region apply to every region that has no specific row.
type Table struct {
	rates map[rateKey]decimal.Decimal
}

// LoadTable reads a cost table from a CSV file with the columns
// model_name, region, type, cost_per_token.
func LoadTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open cost table: %w", err)
	}
	defer f.Close()
	return ParseTable(f)
}

// ParseTable reads cost rows from r. The header row is required.
func ParseTable(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 4

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read cost table header: %w", err)
	}
	if len(header) != 4 || strings.TrimSpace(header[0]) != "model_name" {
		return nil, fmt.Errorf("unexpected cost table header: %v", header)
	}

	rates := make(map[rateKey]decimal.Decimal)
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read cost table line %d: %w", line, err)
		}

		direction := Direction(strings.TrimSpace(record[2]))
		if direction != Input && direction != Output {
			return nil, fmt.Errorf("cost table line %d: type must be input or output, got %q", line, record[2])
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(record[3]))
		if err != nil {
			return nil, fmt.Errorf("cost table line %d: bad cost_per_token: %w", line, err)
		}

		key := rateKey{
			model:     strings.TrimSpace(record[0]),
			region:    strings.TrimSpace(record[1]),
			direction: direction,
		}
		rates[key] = rate
	}

	return &Table{rates: rates}, nil
}

// Rate returns the per-token cost for a model in a region, falling back
// to the wildcard row when no region-specific rate exists.
func (t *Table) Rate(model, region string, direction Direction) (decimal.Decimal, error) {
	if rate, ok := t.rates[rateKey{model: model, region: region, direction: direction}]; ok {
		return rate, nil
	}
	if rate, ok := t.rates[rateKey{model: model, direction: direction}]; ok {
		return rate, nil
	}
	return decimal.Decimal{}, fmt.Errorf("%w: model %s type %s", ErrRateNotFound, model, direction)
}

var perThousand = decimal.NewFromInt(1000)

// Cost prices an exchange: tokens times the per-token rate, scaled per
// thousand tokens, summed over both directions. Directions with zero
// tokens need no rate, so embedding models can omit an output row.
func (t *Table) Cost(model, region string, inputTokens, outputTokens int) (decimal.Decimal, error) {
	total := decimal.Zero
	if inputTokens > 0 {
		rate, err := t.Rate(model, region, Input)
		if err != nil {
			return decimal.Decimal{}, err
		}
		total = total.Add(decimal.NewFromInt(int64(inputTokens)).Mul(rate).Div(perThousand))
	}
	if outputTokens > 0 {
		rate, err := t.Rate(model, region, Output)
		if err != nil {
			return decimal.Decimal{}, err
		}
		total = total.Add(decimal.NewFromInt(int64(outputTokens)).Mul(rate).Div(perThousand))
	}
	return total, nil
}
