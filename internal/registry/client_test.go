package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	k8sfake "k8s.io/client-go/kubernetes/fake"

	"github.com/parttimenerd/local-android-ai-sub000/internal/telemetry"
)

func phoneNode(name, ip string) *corev1.Node {
	return &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{
			Name:   name,
			Labels: map[string]string{"device-type": "phone"},
		},
		Status: corev1.NodeStatus{
			Addresses: []corev1.NodeAddress{
				{Type: corev1.NodeInternalIP, Address: ip},
			},
		},
	}
}

func TestListCandidates(t *testing.T) {
	clientset := k8sfake.NewSimpleClientset(
		phoneNode("phone-a", "10.0.0.11"),
		phoneNode("phone-b", "10.0.0.12"),
		&corev1.Node{ObjectMeta: metav1.ObjectMeta{Name: "server-1"}},
	)
	client := NewWithClientset(clientset)

	devices, err := client.ListCandidates(context.Background(), DefaultSelector)
	require.NoError(t, err)
	require.Len(t, devices, 2)

	byName := map[string]string{}
	for _, d := range devices {
		byName[d.Name] = d.Address
	}
	assert.Equal(t, "10.0.0.11", byName["phone-a"])
	assert.Equal(t, "10.0.0.12", byName["phone-b"])
}

func TestListCandidates_EmptyFleet(t *testing.T) {
	client := NewWithClientset(k8sfake.NewSimpleClientset())

	devices, err := client.ListCandidates(context.Background(), DefaultSelector)
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestGetRecord_NoneWritten(t *testing.T) {
	client := NewWithClientset(k8sfake.NewSimpleClientset(phoneNode("phone-a", "10.0.0.11")))

	record, err := client.GetRecord(context.Background(), "phone-a")
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestGetRecord_UnknownNode(t *testing.T) {
	client := NewWithClientset(k8sfake.NewSimpleClientset())

	_, err := client.GetRecord(context.Background(), "phone-a")
	assert.Error(t, err)
}

func TestWriteRecord_RoundTrip(t *testing.T) {
	clientset := k8sfake.NewSimpleClientset(phoneNode("phone-a", "10.0.0.11"))
	client := NewWithClientset(clientset)

	updated := time.Date(2026, 8, 26, 10, 30, 0, 0, time.UTC)
	record := LocationRecord{
		Sample: telemetry.GeoSample{
			Latitude:  52.52,
			Longitude: 13.405,
			Altitude:  34.0,
		},
		PlaceName:           "Berlin, DE",
		PlaceNameResolvedAt: updated,
		Status:              StatusActive,
		UpdatedAt:           updated,
	}

	require.NoError(t, client.WriteRecord(context.Background(), "phone-a", record))

	got, err := client.GetRecord(context.Background(), "phone-a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.InDelta(t, 52.52, got.Sample.Latitude, 1e-6)
	assert.InDelta(t, 13.405, got.Sample.Longitude, 1e-6)
	assert.InDelta(t, 34.0, got.Sample.Altitude, 1e-6)
	assert.Equal(t, "Berlin_DE", got.PlaceName)
	assert.Equal(t, StatusActive, got.Status)
	assert.Equal(t, updated, got.UpdatedAt)
	assert.Equal(t, updated, got.PlaceNameResolvedAt)
}

func TestWriteRecord_NegativeCoordinates(t *testing.T) {
	clientset := k8sfake.NewSimpleClientset(phoneNode("phone-a", "10.0.0.11"))
	client := NewWithClientset(clientset)

	record := LocationRecord{
		Sample:    telemetry.GeoSample{Latitude: -23.5505, Longitude: -46.6333},
		PlaceName: "São Paulo, BR",
		Status:    StatusActive,
		UpdatedAt: time.Now(),
	}
	require.NoError(t, client.WriteRecord(context.Background(), "phone-a", record))

	// The stored values must satisfy the label grammar: no leading '-'.
	node, err := clientset.CoreV1().Nodes().Get(context.Background(), "phone-a", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "n23.550500", node.Labels[KeyLatitude])
	assert.Equal(t, "n46.633300", node.Labels[KeyLongitude])
	assert.Equal(t, "S_o_Paulo__BR", node.Labels[KeyCity])

	got, err := client.GetRecord(context.Background(), "phone-a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.InDelta(t, -23.5505, got.Sample.Latitude, 1e-6)
	assert.InDelta(t, -46.6333, got.Sample.Longitude, 1e-6)
}

func TestWriteRecord_FullReplace(t *testing.T) {
	clientset := k8sfake.NewSimpleClientset(phoneNode("phone-a", "10.0.0.11"))
	client := NewWithClientset(clientset)

	first := LocationRecord{
		Sample:              telemetry.GeoSample{Latitude: 52.52, Longitude: 13.405},
		PlaceName:           "Berlin",
		PlaceNameResolvedAt: time.Unix(1000, 0),
		Status:              StatusActive,
		UpdatedAt:           time.Unix(1000, 0),
	}
	require.NoError(t, client.WriteRecord(context.Background(), "phone-a", first))

	second := LocationRecord{
		Sample:              telemetry.GeoSample{Latitude: 48.137, Longitude: 11.575},
		PlaceName:           "Munich",
		PlaceNameResolvedAt: time.Unix(2000, 0),
		Status:              StatusActive,
		UpdatedAt:           time.Unix(2000, 0),
	}
	require.NoError(t, client.WriteRecord(context.Background(), "phone-a", second))

	got, err := client.GetRecord(context.Background(), "phone-a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Munich", got.PlaceName)
	assert.InDelta(t, 48.137, got.Sample.Latitude, 1e-6)
	assert.Equal(t, time.Unix(2000, 0).UTC(), got.UpdatedAt)

	// Unrelated labels must survive a record write.
	node, err := clientset.CoreV1().Nodes().Get(context.Background(), "phone-a", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "phone", node.Labels["device-type"])
}

func TestWriteRecord_UnknownNode(t *testing.T) {
	client := NewWithClientset(k8sfake.NewSimpleClientset())

	err := client.WriteRecord(context.Background(), "phone-a", LocationRecord{Status: StatusActive})
	assert.Error(t, err)
}
