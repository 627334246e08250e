package sentence

import (
	"context"

	"github.com/hubenschmidt/voicedialog/internal/metrics"
	"github.com/hubenschmidt/voicedialog/internal/tts"
)

// Chunk is one sentence moving through the prefetch pipeline.
type Chunk struct {
	Index      int
	Text       string
	Generation uint64
}

type chunkResult struct {
	chunk Chunk
	audio []byte
	err   error
}

// Deliver is called once per chunk, in splitter order, with its
// synthesized audio. Chunks whose generation no longer matches the
// session's current InterruptToken are dropped before Deliver is called.
type Deliver func(ctx context.Context, chunk Chunk, audioBytes []byte, err error)

// Prefetch runs the producer/consumer prefetch pipeline of spec §4.4: a
// bounded queue of depth `prefetch_depth` holds in-flight synthesis
// futures; sentences are delivered strictly in splitter order even
// though synthesis may complete out of order, because the consumer waits
// on each ordered future before advancing to the next.
type Prefetch struct {
	depth      int
	synth      tts.Synthesizer
	currentGen func() uint64
}

// New builds a Prefetch pipeline with the given depth, synthesizer, and a
// function returning the session's current InterruptToken generation.
func New(depth int, synth tts.Synthesizer, currentGen func() uint64) *Prefetch {
	if depth < 1 {
		depth = 1
	}
	return &Prefetch{depth: depth, synth: synth, currentGen: currentGen}
}

// Run consumes sentences from the channel, synthesizing up to `depth`
// sentences concurrently ahead of delivery, and calls deliver for each in
// order. Run returns when sentences is closed and fully drained, or when
// ctx is cancelled.
func (p *Prefetch) Run(ctx context.Context, sentences <-chan string, deliver Deliver) {
	futures := make(chan chan chunkResult, p.depth)
	generation := p.currentGen()

	go func() {
		defer close(futures)
		index := 0
		for text := range sentences {
			chunk := Chunk{Index: index, Text: text, Generation: generation}
			index++

			fut := make(chan chunkResult, 1)
			select {
			case futures <- fut:
				metrics.PrefetchQueueDepth.Set(float64(len(futures)))
			case <-ctx.Done():
				return
			}

			go func(c Chunk, out chan chunkResult) {
				audioBytes, err := p.synth.Synthesize(ctx, c.Text)
				out <- chunkResult{chunk: c, audio: audioBytes.Audio, err: err}
			}(chunk, fut)
		}
	}()

	for {
		select {
		case fut, ok := <-futures:
			if !ok {
				return
			}
			res := <-fut
			metrics.PrefetchQueueDepth.Set(float64(len(futures)))
			if res.chunk.Generation != p.currentGen() {
				continue // stale: interrupted since this sentence was queued
			}
			deliver(ctx, res.chunk, res.audio, res.err)
		case <-ctx.Done():
			p.drain(futures)
			return
		}
	}
}

// drain empties any remaining in-flight futures without delivering them,
// per spec §4.7 step 3 ("drain the prefetch queue").
func (p *Prefetch) drain(futures chan chan chunkResult) {
	for fut := range futures {
		<-fut
	}
}
