package device

import (
	"testing"
	"time"
)

func TestBlockSchedulerEvenSplit(t *testing.T) {
	type spec struct {
		workers int
		rows    uint32
		expRows []uint32
	}
	specs := []spec{
		{2, 10, []uint32{5, 5}},
		{3, 10, []uint32{4, 3, 3}},
		{4, 2, []uint32{1, 1}},
		{1, 7, []uint32{7}},
	}

	for index, s := range specs {
		sch := &blockScheduler{}
		blockAssignment := sch.Schedule(s.workers, s.rows)

		if len(blockAssignment) != len(s.expRows) {
			t.Fatalf("[spec %d] expected %d blocks; got %d", index, len(s.expRows), len(blockAssignment))
		}
		for worker, expRows := range s.expRows {
			if blockAssignment[worker] != expRows {
				t.Fatalf("[spec %d] expected worker %d to be assigned %d rows; got %d", index, worker, expRows, blockAssignment[worker])
			}
		}
	}
}

func TestBlockSchedulerFeedback(t *testing.T) {
	type spec struct {
		frameH   uint32
		rTime1   time.Duration
		rTime2   time.Duration
		expRows1 uint32
		expRows2 uint32
	}
	specs := []spec{
		// First call always splits rows evenly
		{10, time.Duration(1), time.Duration(5), 5, 5},
		// Worker 0 finished its block 5 times faster
		{10, time.Duration(1), time.Duration(5), 9, 1},
		// This time worker 2 performed much better
		{10, time.Duration(5), time.Duration(1), 7, 3},
	}

	sch := &blockScheduler{}
	for index, s := range specs {
		// Timings of the previous dispatch. Ignored before the first one.
		sch.Record(0, s.rTime1)
		sch.Record(1, s.rTime2)

		blockAssignment := sch.Schedule(2, s.frameH)

		if blockAssignment[0] != s.expRows1 {
			t.Fatalf("[spec %d] expected worker 0 to be assigned %d rows; got %d", index, s.expRows1, blockAssignment[0])
		}

		if blockAssignment[1] != s.expRows2 {
			t.Fatalf("[spec %d] expected worker 1 to be assigned %d rows; got %d", index, s.expRows2, blockAssignment[1])
		}

	}
}

func TestBlockSchedulerResetOnResize(t *testing.T) {
	sch := &blockScheduler{}
	sch.Schedule(2, 10)
	sch.Record(0, time.Duration(1))
	sch.Record(1, time.Duration(5))

	blockAssignment := sch.Schedule(2, 20)
	if blockAssignment[0] != 10 || blockAssignment[1] != 10 {
		t.Fatalf("expected an even split after a grid resize; got %v", blockAssignment)
	}
}
