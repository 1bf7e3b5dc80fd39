package telegram

import (
	"fmt"
	"html"
	"strings"

	"github.com/example/driver-console/internal/models"
	"github.com/example/driver-console/internal/tracker"
)

func renderOffer(req *models.RideRequest, distKm *float64, seconds int) string {
	var b strings.Builder
	b.WriteString("🔔 <b>New ride request</b>\n")
	fmt.Fprintf(&b, "👤 %s", html.EscapeString(req.Passenger.Name))
	if req.Passenger.Rating > 0 {
		fmt.Fprintf(&b, " ⭐ %.1f", req.Passenger.Rating)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "📍 %s\n", html.EscapeString(placeName(req.Pickup)))
	fmt.Fprintf(&b, "🏁 %s\n", html.EscapeString(placeName(req.Dropoff)))
	fmt.Fprintf(&b, "💰 <b>R%.2f</b> · %.1f km · %.0f min\n", req.EstimatedFare, req.DistanceKm, req.DurationMin)
	if distKm != nil {
		fmt.Fprintf(&b, "🚗 %.1f km to pickup\n", *distKm)
	}
	if req.PaymentMethod != "" {
		fmt.Fprintf(&b, "💳 %s\n", req.PaymentMethod)
	}
	fmt.Fprintf(&b, "⏱ %ds to respond", seconds)
	return b.String()
}

func placeName(l models.Location) string {
	if l.Address != "" {
		return l.Address
	}
	return fmt.Sprintf("%.5f, %.5f", l.Coordinates.Latitude, l.Coordinates.Longitude)
}

// renderOutcome replaces the offer text once the request is resolved.
func renderOutcome(offer string, typ tracker.EventType) string {
	var tail string
	switch typ {
	case tracker.EventRequestAccepted:
		tail = "✅ <b>Accepted</b>"
	case tracker.EventRequestDeclined:
		tail = "❌ <b>Declined</b>"
	case tracker.EventRequestExpired:
		tail = "⌛ <b>Expired</b>"
	default:
		return offer
	}
	if i := strings.LastIndex(offer, "\n⏱"); i >= 0 {
		offer = offer[:i]
	}
	return offer + "\n" + tail
}

// renderClosed marks an offer whose outcome was never observed.
func renderClosed(offer string) string {
	if i := strings.LastIndex(offer, "\n⏱"); i >= 0 {
		offer = offer[:i]
	}
	return offer + "\n🔕 <b>No longer available</b>"
}

func renderTrip(trip *models.ActiveTrip) string {
	return fmt.Sprintf("🚕 Trip <code>%s</code> with %s: <b>%s</b>\n📍 %s → 🏁 %s",
		html.EscapeString(trip.ID), html.EscapeString(trip.Passenger.Name), trip.Status,
		html.EscapeString(placeName(trip.Pickup)), html.EscapeString(placeName(trip.Dropoff)))
}

func renderState(st tracker.State) string {
	switch st.Phase {
	case tracker.PhaseOffline:
		return "⚪ You are <b>offline</b>. Send /online to start receiving rides."
	case tracker.PhaseIdle:
		return "🟢 <b>Online</b>, waiting for ride requests."
	case tracker.PhasePending:
		return fmt.Sprintf("🔔 Request <code>%s</code> pending, %ds left.", html.EscapeString(st.Request.ID), st.SecondsRemaining)
	case tracker.PhaseOnTrip:
		return renderTrip(st.Trip)
	}
	return string(st.Phase)
}

func renderEarnings(e models.Earnings) string {
	var b strings.Builder
	b.WriteString("💵 <b>Earnings</b>\n")
	for _, p := range []struct {
		label string
		pe    models.PeriodEarnings
	}{{"Today", e.Today}, {"Week", e.Week}, {"Month", e.Month}} {
		fmt.Fprintf(&b, "%s: R%.2f · %d rides · %.1f h\n", p.label, p.pe.Total, p.pe.Rides, p.pe.Hours)
	}
	if !e.FetchedAt.IsZero() {
		fmt.Fprintf(&b, "<i>as of %s</i>", e.FetchedAt.Format("15:04"))
	}
	return strings.TrimRight(b.String(), "\n")
}
