package weather

import (
	"testing"

	"github.com/LaNNy-kz/web-weather-20/internal/models"
)

// TestUpdateHub_MultipleSubscribers verifies that every subscriber of a key
// is notified, covering two open views of the same location.
func TestUpdateHub_MultipleSubscribers(t *testing.T) {
	h := newUpdateHub()

	var first, second int
	cancel1 := h.subscribe("weather:51.507,-0.128", func(models.WeatherPayload) { first++ })
	cancel2 := h.subscribe("weather:51.507,-0.128", func(models.WeatherPayload) { second++ })
	defer cancel1()
	defer cancel2()

	h.notify("weather:51.507,-0.128", models.WeatherPayload{})

	if first != 1 || second != 1 {
		t.Errorf("notifications = %d/%d, want 1/1", first, second)
	}
}

// TestUpdateHub_KeyIsolation verifies that subscribers only see updates for
// their own coordinate key.
func TestUpdateHub_KeyIsolation(t *testing.T) {
	h := newUpdateHub()

	var london, paris int
	defer h.subscribe("weather:51.507,-0.128", func(models.WeatherPayload) { london++ })()
	defer h.subscribe("weather:48.857,2.352", func(models.WeatherPayload) { paris++ })()

	h.notify("weather:51.507,-0.128", models.WeatherPayload{})

	if london != 1 {
		t.Errorf("london notifications = %d, want 1", london)
	}
	if paris != 0 {
		t.Errorf("paris notifications = %d, want 0", paris)
	}
}

// TestUpdateHub_CancelStopsDelivery verifies that a cancelled subscription
// receives no further updates while others keep receiving.
func TestUpdateHub_CancelStopsDelivery(t *testing.T) {
	h := newUpdateHub()

	var kept, cancelled int
	defer h.subscribe("k", func(models.WeatherPayload) { kept++ })()
	cancel := h.subscribe("k", func(models.WeatherPayload) { cancelled++ })

	h.notify("k", models.WeatherPayload{})
	cancel()
	h.notify("k", models.WeatherPayload{})

	if kept != 2 {
		t.Errorf("kept subscriber notifications = %d, want 2", kept)
	}
	if cancelled != 1 {
		t.Errorf("cancelled subscriber notifications = %d, want 1", cancelled)
	}
}

// TestUpdateHub_SubscriberMayCancelDuringNotify verifies that a callback
// cancelling its own subscription does not deadlock the hub.
func TestUpdateHub_SubscriberMayCancelDuringNotify(t *testing.T) {
	h := newUpdateHub()

	var cancel func()
	var calls int
	cancel = h.subscribe("k", func(models.WeatherPayload) {
		calls++
		cancel()
	})

	h.notify("k", models.WeatherPayload{})
	h.notify("k", models.WeatherPayload{})

	if calls != 1 {
		t.Errorf("callback ran %d times, want 1 after self-cancel", calls)
	}
}
