// Package report renders a completed run as rows, CSV, a chart series and a
// terminal table. It only serializes; every value comes from the Report.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"coinscanner/internal/market"
)

// Columns is the stable export column order.
var Columns = []string{
	"rank",
	"id",
	"name",
	"symbol",
	"price_usd",
	"change_24h_pct",
	"market_cap",
	"volume_24h",
	"binance_status",
	"binance_pair",
	"binance_price",
	"binance_quote_volume",
	"news_titles",
	"news_urls",
}

// newsSeparator joins multiple titles or URLs in a single cell.
const newsSeparator = " | "

// Row is one coin flattened for display and export. Exchange fields are empty
// unless the coin is tradable.
type Row struct {
	Rank               int      `json:"rank"`
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Symbol             string   `json:"symbol"`
	PriceUSD           string   `json:"price_usd"`
	Change24hPct       string   `json:"change_24h_pct"`
	MarketCap          string   `json:"market_cap"`
	Volume24h          string   `json:"volume_24h"`
	BinanceStatus      string   `json:"binance_status"`
	BinancePair        string   `json:"binance_pair"`
	BinancePrice       string   `json:"binance_price"`
	BinanceQuoteVolume string   `json:"binance_quote_volume"`
	NewsTitles         []string `json:"news_titles"`
	NewsURLs           []string `json:"news_urls"`
}

// Rows flattens a report in rank order.
func Rows(r *market.Report) []Row {
	if r == nil {
		return []Row{}
	}

	rows := make([]Row, 0, len(r.Coins))
	for _, c := range r.Coins {
		row := Row{
			Rank:          c.Rank,
			ID:            c.ID,
			Name:          c.Name,
			Symbol:        strings.ToUpper(c.Symbol),
			PriceUSD:      c.Price.String(),
			Change24hPct:  c.Change24h.StringFixed(2),
			MarketCap:     c.MarketCap.String(),
			Volume24h:     c.Volume24h.String(),
			BinanceStatus: string(c.Tradability.Status),
			NewsTitles:    []string{},
			NewsURLs:      []string{},
		}
		if c.Tradability.Tradable() {
			row.BinancePair = c.Tradability.Pair
			row.BinancePrice = c.Tradability.Price.String()
			row.BinanceQuoteVolume = c.Tradability.QuoteVolume.String()
		}
		for _, item := range c.News.Items {
			row.NewsTitles = append(row.NewsTitles, item.Title)
			row.NewsURLs = append(row.NewsURLs, item.URL)
		}
		rows = append(rows, row)
	}
	return rows
}

// Record returns the row's cells in Columns order.
func (r Row) Record() []string {
	return []string{
		strconv.Itoa(r.Rank),
		r.ID,
		r.Name,
		r.Symbol,
		r.PriceUSD,
		r.Change24hPct,
		r.MarketCap,
		r.Volume24h,
		r.BinanceStatus,
		r.BinancePair,
		r.BinancePrice,
		r.BinanceQuoteVolume,
		strings.Join(r.NewsTitles, newsSeparator),
		strings.Join(r.NewsURLs, newsSeparator),
	}
}

// WriteCSV writes a header line and one record per coin.
func WriteCSV(w io.Writer, r *market.Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}
	for _, row := range Rows(r) {
		if err := cw.Write(row.Record()); err != nil {
			return fmt.Errorf("writing csv row %d: %w", row.Rank, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// FileName returns the export file name for a run finished at t.
func FileName(t time.Time) string {
	return "top_gainers_" + t.UTC().Format("20060102_150405") + ".csv"
}

// Point is one bar of the gainers chart.
type Point struct {
	ID     string  `json:"id"`
	Symbol string  `json:"symbol"`
	Change float64 `json:"change_24h_pct"`
}

// Chart returns the change series in rank order.
func Chart(r *market.Report) []Point {
	if r == nil {
		return []Point{}
	}
	points := make([]Point, len(r.Coins))
	for i, c := range r.Coins {
		points[i] = Point{
			ID:     c.ID,
			Symbol: strings.ToUpper(c.Symbol),
			Change: c.Change24h.Round(2).InexactFloat64(),
		}
	}
	return points
}

// WriteTable prints an aligned table followed by the news links per coin.
func WriteTable(w io.Writer, r *market.Report) error {
	rows := Rows(r)
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No coins with a positive 24h change.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSYMBOL\tNAME\tPRICE\t24H %\tBINANCE\tPAIR PRICE\t")
	for _, row := range rows {
		binance := row.BinanceStatus
		if row.BinancePair != "" {
			binance = row.BinancePair
		}
		price := row.BinancePrice
		if price == "" {
			price = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			row.Rank, row.Symbol, row.Name, row.PriceUSD, row.Change24hPct, binance, price)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if r.NewsEnabled {
		for _, row := range rows {
			if len(row.NewsTitles) == 0 {
				continue
			}
			fmt.Fprintf(w, "\n%s news:\n", row.Symbol)
			for i, title := range row.NewsTitles {
				fmt.Fprintf(w, "  - %s (%s)\n", title, row.NewsURLs[i])
			}
		}
	}
	return nil
}
