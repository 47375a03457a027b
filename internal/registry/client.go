// Package registry reads and writes per-device location records stored as
// labels on the cluster's node objects.
//
// The node label set is the authoritative store for this subsystem: a
// LocationRecord exists for a device once the reconciler has written one,
// and every write replaces all phone.location/ labels at once.
package registry

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/parttimenerd/local-android-ai-sub000/internal/telemetry"
	"github.com/parttimenerd/local-android-ai-sub000/internal/util/retry"
)

// DeviceIdentity is one candidate device, resolved fresh each pass.
// Addresses may change between passes and are never cached.
type DeviceIdentity struct {
	Name    string
	Address string
}

// LocationRecord is the cluster's current belief about one device's
// location. It is created on the first successful telemetry fetch and
// mutated only by the reconciler; device removal is out of scope here.
type LocationRecord struct {
	Sample              telemetry.GeoSample
	PlaceName           string
	PlaceNameResolvedAt time.Time
	Status              string
	UpdatedAt           time.Time
}

// Client wraps the Kubernetes API operations the reconciler needs.
type Client struct {
	clientset kubernetes.Interface
}

// NewClient creates a registry client. In-cluster configuration is tried
// first; outside a cluster the given kubeconfig path (or the default
// loading rules when empty) is used.
func NewClient(kubeconfigPath string) (*Client, error) {
	config, err := rest.InClusterConfig()
	if err != nil {
		config, err = clientcmd.BuildConfigFromFlags("", kubeconfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to build kubeconfig: %w", err)
		}
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}

	return &Client{clientset: clientset}, nil
}

// NewWithClientset creates a registry client around an existing clientset.
// Tests use this with the fake clientset.
func NewWithClientset(clientset kubernetes.Interface) *Client {
	return &Client{clientset: clientset}
}

// ListCandidates returns the devices currently matching the label selector.
// The fleet is not assumed static: this is re-read every pass. A list
// failure is fatal for the pass, there is nothing to reconcile.
func (c *Client) ListCandidates(ctx context.Context, selector string) ([]DeviceIdentity, error) {
	nodes, err := c.clientset.CoreV1().Nodes().List(ctx, metav1.ListOptions{
		LabelSelector: selector,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list candidate devices: %w", err)
	}

	devices := make([]DeviceIdentity, 0, len(nodes.Items))
	for i := range nodes.Items {
		devices = append(devices, DeviceIdentity{
			Name:    nodes.Items[i].Name,
			Address: nodeAddress(&nodes.Items[i]),
		})
	}
	return devices, nil
}

// GetRecord returns the stored LocationRecord for a device, or nil when the
// node carries no location labels yet. A record with undecodable coordinate
// labels is treated as absent; the next successful write heals it.
func (c *Client) GetRecord(ctx context.Context, name string) (*LocationRecord, error) {
	node, err := c.clientset.CoreV1().Nodes().Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get node %s: %w", name, err)
	}
	return recordFromLabels(node.Labels), nil
}

// WriteRecord upserts all location labels for a device in one update.
// Re-applying an identical record is a no-op from the registry's point of
// view. Conflicting concurrent updates of the node object are retried;
// other API errors are not.
func (c *Client) WriteRecord(ctx context.Context, name string, record LocationRecord) error {
	err := retry.WithExponentialBackoff(ctx, func() error {
		node, err := c.clientset.CoreV1().Nodes().Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return retry.Fatal(fmt.Errorf("failed to get node %s: %w", name, err))
		}

		if node.Labels == nil {
			node.Labels = make(map[string]string)
		}
		applyRecord(node.Labels, record)

		_, err = c.clientset.CoreV1().Nodes().Update(ctx, node, metav1.UpdateOptions{})
		if err != nil {
			if apierrors.IsConflict(err) {
				return err
			}
			return retry.Fatal(err)
		}
		return nil
	}, retry.WithMaxRetries(3), retry.WithInitialDelay(100*time.Millisecond))
	if err != nil {
		return fmt.Errorf("failed to write location record for %s: %w", name, err)
	}
	return nil
}

// nodeAddress picks the address the telemetry client should dial: the first
// internal IP, falling back to the first external IP.
func nodeAddress(node *corev1.Node) string {
	var external string
	for _, addr := range node.Status.Addresses {
		switch addr.Type {
		case corev1.NodeInternalIP:
			return addr.Address
		case corev1.NodeExternalIP:
			if external == "" {
				external = addr.Address
			}
		}
	}
	return external
}

// applyRecord replaces the full phone.location/ label set on labels.
func applyRecord(labels map[string]string, record LocationRecord) {
	labels[KeyLatitude] = formatCoordinate(record.Sample.Latitude)
	labels[KeyLongitude] = formatCoordinate(record.Sample.Longitude)
	labels[KeyAltitude] = formatCoordinate(record.Sample.Altitude)
	labels[KeyCity] = SanitizeValue(record.PlaceName)
	labels[KeyUpdated] = formatTimestamp(record.UpdatedAt.Unix())
	labels[KeyStatus] = record.Status
	labels[KeyGeocoded] = formatTimestamp(record.PlaceNameResolvedAt.Unix())
}

// recordFromLabels decodes a LocationRecord from node labels, returning nil
// when no record has been written or the coordinates do not decode.
func recordFromLabels(labels map[string]string) *LocationRecord {
	latStr, ok := labels[KeyLatitude]
	if !ok {
		return nil
	}

	lat, err := parseCoordinate(latStr)
	if err != nil {
		return nil
	}
	lon, err := parseCoordinate(labels[KeyLongitude])
	if err != nil {
		return nil
	}

	record := &LocationRecord{
		Sample: telemetry.GeoSample{
			Latitude:  lat,
			Longitude: lon,
		},
		PlaceName: labels[KeyCity],
		Status:    labels[KeyStatus],
	}

	if alt, err := parseCoordinate(labels[KeyAltitude]); err == nil {
		record.Sample.Altitude = alt
	}
	if ts, err := parseTimestamp(labels[KeyUpdated]); err == nil {
		record.UpdatedAt = time.Unix(ts, 0).UTC()
		record.Sample.ObservedAt = record.UpdatedAt
	}
	if ts, err := parseTimestamp(labels[KeyGeocoded]); err == nil {
		record.PlaceNameResolvedAt = time.Unix(ts, 0).UTC()
	}

	return record
}
