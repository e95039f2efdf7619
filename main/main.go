package main

import (
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"runtime"
	"runtime/pprof"
	"time"

	"github.com/relicbin/relic"
)

// Profiling harness: hammer the serialize/deserialize loop on a small
// cyclic graph and dump a heap profile.
func main() {
	go func() {
		log.Println(http.ListenAndServe("localhost:6060", nil))
	}()
	f, err := os.Create("mem.prof")
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	runtime.MemProfileRate = 1

	type node struct {
		Label string
		Vals  []int64
		Next  *node
	}
	nodes := make([]node, 16)
	for i := range nodes {
		nodes[i].Label = "profiling-node"
		nodes[i].Vals = []int64{100, 250, 300}
		nodes[i].Next = &nodes[(i+1)%len(nodes)]
	}
	scratch := make([]byte, 0)
	for i := 0; i < 10000; i++ {
		data, _ := relic.Serialize(&nodes[0], relic.DefaultMode)
		scratch = append(scratch[:0], data...)
		_, _ = relic.Deserialize[node](scratch, relic.DefaultMode)
	}
	pprof.WriteHeapProfile(f)
	time.Sleep(5 * time.Minute)
}
