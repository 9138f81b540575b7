package device

import (
	"math"
	"time"
)

// The block scheduler splits a dispatch grid into blocks of contiguous rows
// and assigns one block to each worker.
//
// It assumes that the volume of work between two subsequent dispatches of the
// same pipeline is approximately the same, so it uses the per-worker timings
// from the previous dispatch to rebalance rows.
type blockScheduler struct {
	rows            uint32
	blockAssignment []uint32
	blockTime       []time.Duration
}

// Split rows into one block per worker. The sum of the returned block heights
// always equals rows. If rows < workers then fewer blocks are returned.
//
// When feedback from the previous dispatch is available, the scheduler uses
// the following formula for estimating the workload for worker w and dispatch i+1:
// w_i, f_i+1 = (blockH,w_i / time,w_i) / Σ(blockH_i / time,i)
func (sch *blockScheduler) Schedule(workers int, rows uint32) []uint32 {
	if uint32(workers) > rows {
		workers = int(rows)
	}
	if workers <= 0 {
		return nil
	}

	// If this is the first time we schedule, the grid or the number of workers
	// has changed, or a worker did not report back, we need to reset the
	// block assignments and split rows evenly.
	if len(sch.blockAssignment) != workers || sch.rows != rows || !sch.hasFeedback() {
		sch.rows = rows
		sch.blockAssignment = make([]uint32, workers)
		sch.blockTime = make([]time.Duration, workers)

		base := rows / uint32(workers)
		rem := rows % uint32(workers)
		for idx := range sch.blockAssignment {
			sch.blockAssignment[idx] = base
			if uint32(idx) < rem {
				sch.blockAssignment[idx]++
			}
		}

		return sch.assignment()
	}

	// Use last dispatch statistics
	var total float64
	for idx, blockH := range sch.blockAssignment {
		total += float64(blockH) / float64(sch.blockTime[idx])
	}

	scaler := float64(rows) / total
	var scheduledRows uint32
	for idx, blockH := range sch.blockAssignment {
		sch.blockAssignment[idx] = uint32(math.Max(1.0, math.Floor(float64(blockH)/float64(sch.blockTime[idx])*scaler)))
		scheduledRows += sch.blockAssignment[idx]
	}

	// In case rows don't add up to the frame height append the missing ones
	// to the first worker or trim the excess from the largest blocks
	if scheduledRows < rows {
		sch.blockAssignment[0] += rows - scheduledRows
	}
	for scheduledRows > rows {
		largest := 0
		for idx, blockH := range sch.blockAssignment {
			if blockH > sch.blockAssignment[largest] {
				largest = idx
			}
		}
		sch.blockAssignment[largest]--
		scheduledRows--
	}

	clear(sch.blockTime)
	return sch.assignment()
}

// Record the time it took a worker to process its last block.
func (sch *blockScheduler) Record(worker int, elapsed time.Duration) {
	if worker < 0 || worker >= len(sch.blockTime) {
		return
	}
	if elapsed <= 0 {
		elapsed = time.Nanosecond
	}
	sch.blockTime[worker] = elapsed
}

func (sch *blockScheduler) hasFeedback() bool {
	for _, t := range sch.blockTime {
		if t <= 0 {
			return false
		}
	}
	return true
}

func (sch *blockScheduler) assignment() []uint32 {
	out := make([]uint32, len(sch.blockAssignment))
	copy(out, sch.blockAssignment)
	return out
}
