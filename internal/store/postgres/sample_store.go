package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bookbias/internal/domain"
)

// defaultListLimit caps ListRecent when the caller sets no limit.
const defaultListLimit = 100

// SampleStore implements domain.SampleStore using PostgreSQL.
type SampleStore struct {
	pool *pgxpool.Pool
}

// NewSampleStore creates a new SampleStore backed by the given connection pool.
func NewSampleStore(pool *pgxpool.Pool) *SampleStore {
	return &SampleStore{pool: pool}
}

const sampleSelectCols = `id, asset_symbol, sampled_at, last_ladder_update,
	mid_price::text, best_bid::text, best_ask::text,
	total_ask_depth, total_bid_depth, windows`

// windowRow is the JSONB shape of one window's metrics. Decimals are kept as
// strings so no precision is lost.
type windowRow struct {
	Name          string  `json:"name"`
	HalfWidth     string  `json:"half_width"`
	AskQty        string  `json:"ask_qty"`
	BidQty        string  `json:"bid_qty"`
	Bias          float64 `json:"bias"`
	LowConfidence bool    `json:"low_confidence,omitempty"`
}

func encodeWindows(ws []domain.WindowMetrics) ([]byte, error) {
	rows := make([]windowRow, len(ws))
	for i, w := range ws {
		rows[i] = windowRow{
			Name:          w.Window.Name,
			HalfWidth:     w.Window.HalfWidth.String(),
			AskQty:        w.AskQty.String(),
			BidQty:        w.BidQty.String(),
			Bias:          w.Bias,
			LowConfidence: w.LowConfidence,
		}
	}
	return json.Marshal(rows)
}

func decodeWindows(data []byte) ([]domain.WindowMetrics, error) {
	var rows []windowRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}
	out := make([]domain.WindowMetrics, len(rows))
	for i, r := range rows {
		hw, err := decimal.NewFromString(r.HalfWidth)
		if err != nil {
			return nil, fmt.Errorf("window %s half width: %w", r.Name, err)
		}
		ask, err := decimal.NewFromString(r.AskQty)
		if err != nil {
			return nil, fmt.Errorf("window %s ask qty: %w", r.Name, err)
		}
		bid, err := decimal.NewFromString(r.BidQty)
		if err != nil {
			return nil, fmt.Errorf("window %s bid qty: %w", r.Name, err)
		}
		out[i] = domain.WindowMetrics{
			Window:        domain.BiasWindow{Name: r.Name, HalfWidth: hw},
			AskQty:        ask,
			BidQty:        bid,
			Bias:          r.Bias,
			LowConfidence: r.LowConfidence,
		}
	}
	return out, nil
}

// Insert stores rec. Re-inserting the same record ID is a no-op.
func (s *SampleStore) Insert(ctx context.Context, rec domain.SampleRecord) error {
	windows, err := encodeWindows(rec.Metrics.Windows)
	if err != nil {
		return fmt.Errorf("postgres: encode sample windows: %w", err)
	}
	m := rec.Metrics
	_, err = s.pool.Exec(ctx, `
		INSERT INTO book_bias_samples (
			id, asset_symbol, sampled_at, last_ladder_update,
			mid_price, best_bid, best_ask,
			total_ask_depth, total_bid_depth, windows
		) VALUES (
			$1, $2, $3, $4,
			$5::text::numeric, $6::text::numeric, $7::text::numeric,
			$8, $9, $10::jsonb
		) ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.AssetSymbol, rec.SampledAt, rec.LastLadderUpdate,
		m.MidPrice.String(), m.BestBid.String(), m.BestAsk.String(),
		m.TotalAskDepth, m.TotalBidDepth, string(windows),
	)
	if err != nil {
		return fmt.Errorf("postgres: insert sample: %w", err)
	}
	return nil
}

// Latest returns the most recent sample for symbol, or domain.ErrNotFound.
func (s *SampleStore) Latest(ctx context.Context, symbol string) (domain.SampleRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sampleSelectCols+` FROM book_bias_samples
		 WHERE asset_symbol = $1 ORDER BY sampled_at DESC LIMIT 1`, symbol)
	rec, err := scanSample(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SampleRecord{}, domain.ErrNotFound
		}
		return domain.SampleRecord{}, fmt.Errorf("postgres: latest sample: %w", err)
	}
	return rec, nil
}

// ListRecent returns samples for symbol, newest first, with pagination and
// optional time filtering.
func (s *SampleStore) ListRecent(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.SampleRecord, error) {
	query := `SELECT ` + sampleSelectCols + ` FROM book_bias_samples WHERE asset_symbol = $1`
	args := []any{symbol}

	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += fmt.Sprintf(" AND sampled_at >= $%d", len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += fmt.Sprintf(" AND sampled_at <= $%d", len(args))
	}
	query += " ORDER BY sampled_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list samples: %w", err)
	}
	defer rows.Close()

	var out []domain.SampleRecord
	for rows.Next() {
		rec, err := scanSample(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan sample: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list samples: %w", err)
	}
	return out, nil
}

func scanSample(row pgx.Row) (domain.SampleRecord, error) {
	var (
		rec                   domain.SampleRecord
		mid, bestBid, bestAsk string
		windows               []byte
	)
	if err := row.Scan(
		&rec.ID, &rec.AssetSymbol, &rec.SampledAt, &rec.LastLadderUpdate,
		&mid, &bestBid, &bestAsk,
		&rec.Metrics.TotalAskDepth, &rec.Metrics.TotalBidDepth, &windows,
	); err != nil {
		return domain.SampleRecord{}, err
	}

	var err error
	if rec.Metrics.MidPrice, err = decimal.NewFromString(mid); err != nil {
		return domain.SampleRecord{}, fmt.Errorf("mid price: %w", err)
	}
	if rec.Metrics.BestBid, err = decimal.NewFromString(bestBid); err != nil {
		return domain.SampleRecord{}, fmt.Errorf("best bid: %w", err)
	}
	if rec.Metrics.BestAsk, err = decimal.NewFromString(bestAsk); err != nil {
		return domain.SampleRecord{}, fmt.Errorf("best ask: %w", err)
	}
	if rec.Metrics.Windows, err = decodeWindows(windows); err != nil {
		return domain.SampleRecord{}, fmt.Errorf("windows: %w", err)
	}
	rec.SampledAt = rec.SampledAt.UTC()
	rec.LastLadderUpdate = rec.LastLadderUpdate.UTC()
	return rec, nil
}
