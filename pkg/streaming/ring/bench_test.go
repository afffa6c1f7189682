package ring

import (
	"sync"
	"testing"
	"time"
)

func BenchmarkSPSCPushPop(b *testing.B) {
	buf := NewSPSC[int](1024)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		buf.Push(i)
		buf.Pop()
	}
}

func BenchmarkSPSCTransfer(b *testing.B) {
	buf := NewSPSC[int](1024)
	var wg sync.WaitGroup
	wg.Add(1)

	b.ResetTimer()
	go func() {
		defer wg.Done()
		for i := 0; i < b.N; i++ {
			for !buf.WaitPush(i, time.Second) {
			}
		}
	}()

	for i := 0; i < b.N; i++ {
		for {
			if _, ok := buf.WaitPop(time.Second); ok {
				break
			}
		}
	}
	wg.Wait()
}

func BenchmarkMPMCPushPop(b *testing.B) {
	buf := NewMPMC[int](1024)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		buf.Push(i)
		buf.Pop()
	}
}

func BenchmarkMPMCContended(b *testing.B) {
	buf := NewMPMC[int](1024)

	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if i%2 == 0 {
				for !buf.WaitPush(i, time.Second) {
				}
			} else {
				buf.WaitPop(10 * time.Millisecond)
			}
			i++
		}
	})

	// Drain whatever the parallel mix left behind.
	for {
		if _, ok := buf.Pop(); !ok {
			break
		}
	}
}

func BenchmarkChannelBaseline(b *testing.B) {
	// Reference point: a buffered Go channel doing the same SPSC transfer.
	ch := make(chan int, 1024)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		ch <- i
		<-ch
	}
}
