package rigid

import "sync"

// parallel applies fn to every body, fanning out to workers when more than one is configured.
// Each body is visited by exactly one worker so per-body updates stay deterministic.
func parallel(bodies []*Body, workers int, fn func(*Body)) {
	if workers <= 1 || len(bodies) < 2*workers {
		for _, b := range bodies {
			fn(b)
		}
		return
	}
	chunk := (len(bodies) + workers - 1) / workers
	var wg sync.WaitGroup
	for start := 0; start < len(bodies); start += chunk {
		end := min(start+chunk, len(bodies))
		wg.Add(1)
		go func(part []*Body) {
			defer wg.Done()
			for _, b := range part {
				fn(b)
			}
		}(bodies[start:end])
	}
	wg.Wait()
}
