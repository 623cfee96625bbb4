package scan

// Summary is the supplemented per-block write-time summary record
// (`has_summary`/`chunks_per_summary`/`sum_tags` in the original): a
// condensed copy of every chunk's tags for one block. When one is handed
// to queryBlockWithSummary and reported valid, the query pass decodes this
// one record instead of reading every individual chunk's tags. The engine
// has no write path for summaries, and Scan's query pass always calls
// queryBlock, so a mount never uses one.
type Summary struct {
	Block            uint32
	ChunksPerSummary uint32
	SumTags          []ChunkRecord
}

// applyTo seeds a blockQuery's chunk records directly from a summary,
// bypassing the per-chunk tag reads queryBlock would otherwise perform.
// It does no validation of its own; queryBlockWithSummary calls it only
// when its caller reports the summary valid, and otherwise falls back to
// the normal per-chunk query.
func (s *Summary) applyTo(q *blockQuery) {
	q.chunks = append(q.chunks, s.SumTags...)
	for _, rec := range s.SumTags {
		if rec.Tags.SeqNumber > q.seq {
			q.seq = rec.Tags.SeqNumber
		}
		q.hasData = true
	}
}

// queryBlockWithSummary runs the query pass for one block, using summary
// in place of a full per-chunk tag read when summary is non-nil and
// reports itself valid.
func (s *Scanner) queryBlockWithSummary(b uint32, summary *Summary, summaryValid bool) blockQuery {
	if summary != nil && summaryValid {
		q := blockQuery{block: b, payloads: make(map[uint32][]byte)}
		summary.applyTo(&q)
		s.tbl.Info(b).HasSummary = true
		return q
	}
	return s.queryBlock(b)
}
