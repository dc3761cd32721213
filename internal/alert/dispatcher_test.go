package alert_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opsconsole/dbsupervisor/internal/alert"
)

func TestDispatcherDeliversInRegistrationOrder(t *testing.T) {
	d := alert.NewDispatcher()

	var order []int
	d.OnAlert(func(alert.Alert) { order = append(order, 1) })
	d.OnAlert(func(alert.Alert) { order = append(order, 2) })
	d.OnAlert(func(alert.Alert) { order = append(order, 3) })

	d.Dispatch(alert.New(alert.LevelInfo, "test"))

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestDispatcherIsolatesPanickingListener(t *testing.T) {
	d := alert.NewDispatcher()

	var delivered []string
	d.OnAlert(func(a alert.Alert) { delivered = append(delivered, "first") })
	d.OnAlert(func(alert.Alert) { panic("listener blew up") })
	d.OnAlert(func(a alert.Alert) { delivered = append(delivered, "third") })

	assert.NotPanics(t, func() {
		d.Dispatch(alert.New(alert.LevelWarning, "test"))
	})
	assert.Equal(t, []string{"first", "third"}, delivered)
}

func TestDispatcherIgnoresNilListener(t *testing.T) {
	d := alert.NewDispatcher()
	d.OnAlert(nil)
	assert.Equal(t, 0, d.ListenerCount())

	d.OnAlert(func(alert.Alert) {})
	assert.Equal(t, 1, d.ListenerCount())
}

func TestDispatchWithoutListeners(t *testing.T) {
	d := alert.NewDispatcher()
	assert.NotPanics(t, func() {
		d.Dispatch(alert.New(alert.LevelCritical, "nobody listening"))
	})
}

func TestNewAlertSetsTimestamp(t *testing.T) {
	a := alert.New(alert.LevelError, "boom")
	assert.Equal(t, alert.LevelError, a.Level)
	assert.Equal(t, "boom", a.Message)
	assert.False(t, a.Timestamp.IsZero())
}
