package batch

// chunk partitions items into fixed-size slices of at most size, per §4.3
// algorithm 2 (micro-batching).
func chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
		if size == 0 {
			return nil
		}
	}
	var chunks [][]T
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[i:end])
	}
	return chunks
}

// groups partitions chunks into groups of at most maxConcurrent, run
// sequentially between groups and in parallel within a group.
func groups[T any](chunks [][]T, maxConcurrent int) [][][]T {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	var out [][][]T
	for i := 0; i < len(chunks); i += maxConcurrent {
		end := i + maxConcurrent
		if end > len(chunks) {
			end = len(chunks)
		}
		out = append(out, chunks[i:end])
	}
	return out
}
