package chunker

import "strings"

// HeaderRows is the number of leading rows repeated on every table chunk.
const HeaderRows = 2

// RowsPerChunk returns the body-row budget of a table chunk: one row per
// 50 runes of Size, at least one.
func (c *Chunker) RowsPerChunk() int {
	n := c.cfg.Size / 50
	if n < 1 {
		n = 1
	}
	return n
}

// ChunkTable packs whole rows into chunks of RowsPerChunk body rows, each
// starting with the first HeaderRows rows. Blank rows are ignored. A table
// with no body rows yields its header as a single chunk.
func (c *Chunker) ChunkTable(rows []string) []string {
	var kept []string
	for _, r := range rows {
		if strings.TrimSpace(r) != "" {
			kept = append(kept, strings.TrimRight(r, "\r"))
		}
	}
	if len(kept) == 0 {
		return nil
	}

	nh := HeaderRows
	if nh > len(kept) {
		nh = len(kept)
	}
	header := strings.Join(kept[:nh], "\n")
	body := kept[nh:]
	if len(body) == 0 {
		return []string{header}
	}

	per := c.RowsPerChunk()
	chunks := make([]string, 0, (len(body)+per-1)/per)
	for start := 0; start < len(body); start += per {
		end := start + per
		if end > len(body) {
			end = len(body)
		}
		chunks = append(chunks, header+"\n"+strings.Join(body[start:end], "\n"))
	}
	return chunks
}

// ChunkDocument chunks a text that may hold several blocks separated by
// SplitSign. Markdown tables go through ChunkTable, everything else
// through Chunk. With dedup set, exact duplicates are dropped.
func (c *Chunker) ChunkDocument(text string, dedup bool) []string {
	var chunks []string
	for _, block := range strings.Split(text, SplitSign) {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		if c.Detect(block) == StrategyTable {
			chunks = append(chunks, c.ChunkTable(strings.Split(block, "\n"))...)
			continue
		}
		chunks = append(chunks, c.Chunk(block)...)
	}
	if dedup {
		chunks = Dedup(chunks)
	}
	return chunks
}
