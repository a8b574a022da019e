package manager

import (
	"sort"
	"time"

	"modelserve/pkg/types"
)

// Status builds a detailed status response for /status.
func (m *Manager) Status() types.StatusResponse {
	resp := types.StatusResponse{
		CatalogSize:    m.reg.Len(),
		Workers:        m.workers,
		LastError:      m.lastError(),
		UptimeSeconds:  int64(time.Since(m.startTime) / time.Second),
		ServerTimeUnix: time.Now().Unix(),
		LoadsTotal:     m.loads.Load(),
		UnloadsTotal:   m.unloads.Load(),
	}
	resp.Instances = make([]types.InstanceStatus, 0)
	m.entries.Range(func(_ string, e *entry) bool {
		if st, ok := e.status(); ok {
			resp.Instances = append(resp.Instances, st)
			resp.UsedMB += st.EstMemMB
		}
		return true
	})
	sort.Slice(resp.Instances, func(i, j int) bool { return resp.Instances[i].Name < resp.Instances[j].Name })
	probe := m.memProbe
	if probe == nil {
		probe = systemAvailable
	}
	if avail, err := probe(); err == nil {
		resp.AvailableMB = avail / mib
	}
	return resp
}

// Ready reports whether the manager accepts requests. Models load lazily, so an empty
// set of handles is still ready.
func (m *Manager) Ready() bool {
	return !m.closed.Load()
}
