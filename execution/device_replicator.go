package execution

import (
	"context"

	"github.com/neko940709/mapd-core-stream/common"
	"github.com/neko940709/mapd-core-stream/device"
	"github.com/neko940709/mapd-core-stream/logutil"
	"github.com/neko940709/mapd-core-stream/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Replica is a device copy of a host table. It owns its device allocation.
type Replica struct {
	Device common.DeviceID
	Buffer *device.Buffer
}

// Release frees the device allocation.
func (r *Replica) Release() error {
	return r.Buffer.Release()
}

// ReplicaRequest asks for table to be copied to Device.
type ReplicaRequest struct {
	Device common.DeviceID
	Table  *HashTable
}

// DeviceReplicator copies built tables to devices, one goroutine per device.
type DeviceReplicator struct {
	mgr         device.Manager
	parallelism int
	logger      *zap.Logger
}

// NewDeviceReplicator returns a replicator over mgr. parallelism bounds the
// number of concurrent copies; 0 means one per request.
func NewDeviceReplicator(mgr device.Manager, parallelism int, logger *zap.Logger) *DeviceReplicator {
	if logger == nil {
		logger = logutil.BgLogger()
	}
	return &DeviceReplicator{mgr: mgr, parallelism: parallelism, logger: logger}
}

// Replicate copies every requested table and returns the replicas in request
// order. If any allocation or copy fails, replicas already made are freed and
// the error is returned: a table is on all requested devices or on none.
func (r *DeviceReplicator) Replicate(ctx context.Context, reqs []ReplicaRequest) ([]*Replica, error) {
	replicas := make([]*Replica, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	if r.parallelism > 0 {
		g.SetLimit(r.parallelism)
	}
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			rep, err := r.replicate(gctx, req)
			if err != nil {
				return err
			}
			replicas[i] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, rep := range replicas {
			if rep != nil {
				if ferr := rep.Release(); ferr != nil {
					r.logger.Warn("failed to free partial replica", zap.Stringer("device", rep.Device), zap.Error(ferr))
				}
			}
		}
		return nil, err
	}
	return replicas, nil
}

func (r *DeviceReplicator) replicate(ctx context.Context, req ReplicaRequest) (*Replica, error) {
	size := req.Table.SizeBytes()
	buf, err := device.Alloc(ctx, r.mgr, req.Device, size)
	if err != nil {
		return nil, err
	}
	if err := buf.UploadInt32s(ctx, req.Table.Buffer()); err != nil {
		_ = buf.Release()
		return nil, err
	}
	metrics.ReplicatedBytes.Add(float64(size))
	r.logger.Debug("replicated join hash table",
		zap.Stringer("device", req.Device), zap.Int("bytes", size), zap.Stringer("hash_type", req.Table.HashType()))
	return &Replica{Device: req.Device, Buffer: buf}, nil
}
