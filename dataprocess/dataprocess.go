// Package dataprocess manages reading and writing point clouds and maps as PCD files
package dataprocess

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/multierr"
	pc "go.viam.com/rdk/pointcloud"
	"go.viam.com/utils"

	"go.viam.com/lio/config"
	"go.viam.com/lio/sample"
)

// rdk point clouds are stored in millimeters; PCD files and this module use meters.
const mmPerMeter = 1000.

// ToRDK converts a cloud to an rdk point cloud. Duplicate positions collapse into one point.
func ToRDK(cloud sample.PointCloud) (pc.PointCloud, error) {
	out := pc.New()
	for _, p := range cloud.Points {
		if err := out.Set(p.Position.Mul(mmPerMeter), pc.NewBasicData()); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// FromRDK converts an rdk point cloud to a cloud in the given frame, every point stamped t.
func FromRDK(cloud pc.PointCloud, frame sample.Frame, t float64) sample.PointCloud {
	out := sample.NewPointCloud(frame, cloud.Size())
	cloud.Iterate(0, 0, func(p r3.Vector, d pc.Data) bool {
		out.Points = append(out.Points, sample.Point{Position: p.Mul(1 / mmPerMeter), Time: t})
		return true
	})
	return out
}

// WritePCDToFile encodes the cloud as binary PCD and then saves it to the passed filename.
func WritePCDToFile(ctx context.Context, cloud sample.PointCloud, filename string) (err error) {
	_, span := trace.StartSpan(ctx, "lio::dataprocess::WritePCDToFile")
	defer span.End()

	pointcloud, err := ToRDK(cloud)
	if err != nil {
		return err
	}

	//nolint:gosec
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()

	w := bufio.NewWriter(f)
	if err = pc.ToPCD(pointcloud, w, pc.PCDBinary); err != nil {
		return err
	}
	return w.Flush()
}

// ReadPCDFile reads a PCD file into a cloud in the given frame, every point stamped t.
func ReadPCDFile(filename string, frame sample.Frame, t float64) (sample.PointCloud, error) {
	//nolint:gosec
	f, err := os.Open(filename)
	if err != nil {
		return sample.PointCloud{}, err
	}
	defer utils.UncheckedErrorFunc(f.Close)

	pointcloud, err := pc.ReadPCD(bufio.NewReader(f))
	if err != nil {
		return sample.PointCloud{}, errors.Wrapf(err, "reading pcd %s", filename)
	}
	return FromRDK(pointcloud, frame, t), nil
}

// CreateTimestampFilename returns a filename under dataDirectory/directory of the form
// <prefix>_<time>.pcd, where time is seconds on the sensor clock.
func CreateTimestampFilename(dataDirectory, directory, prefix string, t float64) string {
	return filepath.Join(dataDirectory, directory, fmt.Sprintf("%s_%.6f.pcd", prefix, t))
}

// ExportCloud writes a registered cloud to the clouds directory and returns its filename.
func ExportCloud(ctx context.Context, cloud sample.PointCloud, dataDirectory string, t float64) (string, error) {
	filename := CreateTimestampFilename(dataDirectory, config.CloudsDirectory, "cloud", t)
	return filename, WritePCDToFile(ctx, cloud, filename)
}

// Snapshotter returns a copy of the points held by a map.
type Snapshotter interface {
	Points() sample.PointCloud
}

// ExportMap writes a snapshot of the map to the map directory and returns its filename.
func ExportMap(ctx context.Context, m Snapshotter, dataDirectory string, t float64) (string, error) {
	points := m.Points()
	if points.Empty() {
		return "", errors.New("cannot export an empty map")
	}
	filename := CreateTimestampFilename(dataDirectory, config.MapDirectory, "map", t)
	return filename, WritePCDToFile(ctx, points, filename)
}
