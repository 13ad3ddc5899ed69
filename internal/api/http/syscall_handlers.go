package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/exokit-os/exocore/internal/memory"
	"github.com/exokit-os/exocore/internal/syscall"
	"github.com/exokit-os/exocore/internal/types"
)

type mapEntryReq struct {
	Addr  uint64 `json:"addr"`
	Count int    `json:"count"`
	Class string `json:"class"` // "unmap", "4KiB", "2MiB", "2GiB"
	Flags string `json:"flags"` // subset of "rwx"
}

type syscallReq struct {
	Caller types.Handle `json:"caller" binding:"required"`
	Call   string       `json:"call" binding:"required"`

	// terminate, map_memory, sched_yield
	Target types.Handle `json:"target"`
	// sched_yield: donate to the pool when false
	HasTarget bool `json:"has_target"`
	// map_memory
	Entries []mapEntryReq `json:"entries"`
	// get_memory
	Capacity int `json:"capacity"`
	// sched_allocate
	Duration uint64 `json:"duration"`
}

var classNames = map[string]types.SizeClass{
	"unmap": types.SizeNone,
	"4KiB":  types.Size4K,
	"2MiB":  types.Size2M,
	"2GiB":  types.Size2G,
}

func parseFlags(s string) types.Flags {
	var f types.Flags
	for _, r := range s {
		switch r {
		case 'r':
			f |= types.FlagReadable
		case 'w':
			f |= types.FlagWritable
		case 'x':
			f |= types.FlagExecutable
		}
	}
	return f
}

func parseEntries(reqs []mapEntryReq) ([]memory.Entry, bool) {
	entries := make([]memory.Entry, 0, len(reqs))
	for _, r := range reqs {
		class, ok := classNames[r.Class]
		if !ok {
			return nil, false
		}
		entries = append(entries, memory.Entry{
			Addr:  r.Addr,
			Count: r.Count,
			Class: class,
			Flags: parseFlags(r.Flags),
		})
	}
	return entries, true
}

// ExecuteSyscall dispatches one typed call on behalf of a process. This is
// the loader and driver harness; the in-kernel path from the architecture
// layer calls the dispatcher directly.
func (h *Handlers) ExecuteSyscall(c *gin.Context) {
	var req syscallReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var call syscall.Call
	var segs []types.Segment

	switch req.Call {
	case "terminate":
		call = syscall.Terminate{Target: req.Target}
	case "map_memory":
		entries, ok := parseEntries(req.Entries)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown size class"})
			return
		}
		call = syscall.MapMemory{Target: req.Target, Entries: entries}
	case "get_memory":
		if req.Capacity < 0 || req.Capacity > maxSegmentQuery {
			c.JSON(http.StatusBadRequest, gin.H{"error": "capacity out of range"})
			return
		}
		segs = make([]types.Segment, req.Capacity)
		call = syscall.GetMemory{Buf: segs}
	case "sched_allocate":
		call = syscall.SchedAllocate{Duration: req.Duration}
	case "sched_yield":
		var target *types.Handle
		if req.HasTarget {
			t := req.Target
			target = &t
		}
		call = syscall.SchedYield{Target: target}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown call: " + req.Call})
		return
	}

	res := h.dispatcher.Dispatch(req.Caller, call)

	resp := gin.H{
		"result":  uint64(res),
		"status":  res.String(),
		"success": !res.IsError(),
	}
	if req.Call == "get_memory" && !res.IsError() {
		n := int(res)
		if n < len(segs) {
			segs = segs[:n]
		}
		resp["segments"] = segs
	}
	c.JSON(http.StatusOK, resp)
}
