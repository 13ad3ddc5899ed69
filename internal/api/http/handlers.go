package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/exokit-os/exocore/internal/capability"
	"github.com/exokit-os/exocore/internal/kernel"
	"github.com/exokit-os/exocore/internal/logging"
	"github.com/exokit-os/exocore/internal/syscall"
	"github.com/exokit-os/exocore/internal/types"
)

// Handlers carries the handler dependencies.
type Handlers struct {
	kernel     *kernel.Kernel
	dispatcher *syscall.Dispatcher
	log        *logging.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(k *kernel.Kernel, d *syscall.Dispatcher, log *logging.Logger) *Handlers {
	return &Handlers{kernel: k, dispatcher: d, log: log}
}

// Root reports daemon identity.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "exocore",
		"boot_id": h.kernel.BootID,
	})
}

// Health is the liveness probe.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func parseHandle(c *gin.Context) (types.Handle, bool) {
	raw := c.Param("id")
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || n == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid process handle"})
		return 0, false
	}
	return types.Handle(n), true
}

// ListProcesses lists live process records.
func (h *Handlers) ListProcesses(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"processes": h.kernel.Processes()})
}

type permissionReq struct {
	Kind   string       `json:"kind" binding:"required"`
	Target types.Handle `json:"target"`
	Class  string       `json:"class"`
	Device string       `json:"device"`
}

type registerReq struct {
	Handle      types.Handle    `json:"handle" binding:"required"`
	Permissions []permissionReq `json:"permissions"`
	// Boot installs the full ungoverned permission set, the loader's
	// boot-time special case.
	Boot bool `json:"boot"`
}

var kindNames = map[string]capability.Kind{
	"any":            capability.KindAny,
	"terminate":      capability.KindTerminate,
	"map-memory-of":  capability.KindMapMemoryOf,
	"grant":          capability.KindGrant,
	"read-unowned":   capability.KindReadUnowned,
	"write-unowned":  capability.KindWriteUnowned,
	"spawn-process":  capability.KindSpawnProcess,
	"device-access":  capability.KindDeviceAccess,
	"network-access": capability.KindNetworkAccess,
	"disk-read":      capability.KindDiskRead,
	"disk-write":     capability.KindDiskWrite,
}

var deviceNames = map[string]capability.DeviceKind{
	"":            capability.DeviceNone,
	"serial":      capability.DeviceSerial,
	"framebuffer": capability.DeviceFramebuffer,
	"timer":       capability.DeviceTimer,
	"interrupt":   capability.DeviceInterruptController,
}

func parsePermission(req permissionReq) (capability.Permission, bool) {
	kind, ok := kindNames[req.Kind]
	if !ok {
		return capability.Permission{}, false
	}
	perm := capability.Permission{Kind: kind, Target: req.Target}
	if kind == capability.KindGrant {
		class, ok := kindNames[req.Class]
		if !ok {
			return capability.Permission{}, false
		}
		perm.Class = class
	}
	if kind == capability.KindDeviceAccess {
		device, ok := deviceNames[req.Device]
		if !ok {
			return capability.Permission{}, false
		}
		perm.Device = device
	}
	return perm, true
}

// RegisterProcess installs a process record on behalf of the external
// process-management component.
func (h *Handlers) RegisterProcess(c *gin.Context) {
	var req registerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var perms []capability.Permission
	if req.Boot {
		perms = capability.AllPermissions()
	} else {
		for _, pr := range req.Permissions {
			perm, ok := parsePermission(pr)
			if !ok {
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown permission: " + pr.Kind})
				return
			}
			perms = append(perms, perm)
		}
	}

	if err := h.kernel.Register(req.Handle, perms); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"handle": req.Handle})
}

// DeregisterProcess tears a process down on behalf of the external
// process-management component.
func (h *Handlers) DeregisterProcess(c *gin.Context) {
	handle, ok := parseHandle(c)
	if !ok {
		return
	}
	if err := h.kernel.Deregister(handle); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"handle": handle})
}

// maxSegmentQuery bounds how many segments one request may ask for.
const maxSegmentQuery = 4096

// ProcessMemory answers the get-memory query over HTTP.
func (h *Handlers) ProcessMemory(c *gin.Context) {
	handle, ok := parseHandle(c)
	if !ok {
		return
	}
	limit := 128
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 && n <= maxSegmentQuery {
			limit = n
		}
	}
	buf := make([]types.Segment, limit)
	total := h.kernel.MemorySegments(handle, buf)
	if total < limit {
		buf = buf[:total]
	}
	c.JSON(http.StatusOK, gin.H{
		"total":    total,
		"segments": buf,
	})
}

// ProcessCapabilities lists a process's held permissions.
func (h *Handlers) ProcessCapabilities(c *gin.Context) {
	handle, ok := parseHandle(c)
	if !ok {
		return
	}
	if !h.kernel.Registered(handle) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such process"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"handle":      handle,
		"permissions": h.kernel.Capabilities().Snapshot(handle),
	})
}

// SchedulerStats reports scheduler counters.
func (h *Handlers) SchedulerStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"stats": h.kernel.Scheduler().Stats()})
}

// MemoryStats reports frame registry usage.
func (h *Handlers) MemoryStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"stats": h.kernel.Frames().Stats()})
}
