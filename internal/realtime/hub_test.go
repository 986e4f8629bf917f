package realtime

import (
	"testing"

	"github.com/silvershield/silvershield-backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func testDonation() *models.Donation {
	return &models.Donation{
		ID:     primitive.NewObjectID(),
		Status: models.StatusSuccess,
		Method: models.MethodMpesa,
		Amount: 500,
	}
}

func TestPublishReachesDonationAndAdminAudiences(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	donation := testDonation()
	donationCh, cancelDonation := hub.SubscribeDonation(donation.ID.Hex())
	defer cancelDonation()
	adminCh, cancelAdmin := hub.SubscribeAdmin()
	defer cancelAdmin()

	hub.PublishDonationUpdate(donation)

	event := <-donationCh
	assert.Equal(t, EventDonationUpdate, event.Name)
	assert.Equal(t, donation.ID, event.Payload.ID)

	event = <-adminCh
	assert.Equal(t, donation.ID, event.Payload.ID)
}

func TestPublishSkipsOtherDonationAudiences(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	otherCh, cancel := hub.SubscribeDonation(primitive.NewObjectID().Hex())
	defer cancel()

	hub.PublishDonationUpdate(testDonation())

	select {
	case event := <-otherCh:
		t.Fatalf("unexpected event %q for an unrelated donation", event.Name)
	default:
	}
}

func TestCancelStopsDeliveryAndClosesChannel(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	donation := testDonation()
	ch, cancel := hub.SubscribeDonation(donation.ID.Hex())
	cancel()

	hub.PublishDonationUpdate(donation)

	_, open := <-ch
	assert.False(t, open, "cancel must close the subscriber channel")

	// Cancelling twice is harmless
	cancel()
}

func TestPublishNeverBlocksOnSlowSubscriber(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	donation := testDonation()
	ch, cancel := hub.SubscribeDonation(donation.ID.Hex())
	defer cancel()

	// Overflow the buffer without draining. Publishing must return regardless.
	for i := 0; i < 20; i++ {
		hub.PublishDonationUpdate(donation)
	}

	delivered := 0
	for {
		select {
		case <-ch:
			delivered++
			continue
		default:
		}
		break
	}
	require.Greater(t, delivered, 0)
	assert.LessOrEqual(t, delivered, 8, "excess events are dropped, not queued unboundedly")
}

func TestCloseShutsDownAllSubscribers(t *testing.T) {
	hub := NewHub()

	donationCh, _ := hub.SubscribeDonation(primitive.NewObjectID().Hex())
	adminCh, _ := hub.SubscribeAdmin()

	hub.Close()

	_, open := <-donationCh
	assert.False(t, open)
	_, open = <-adminCh
	assert.False(t, open)

	// Publishing and subscribing after close are no-ops
	hub.PublishDonationUpdate(testDonation())
	lateCh, lateCancel := hub.SubscribeAdmin()
	_, open = <-lateCh
	assert.False(t, open)
	lateCancel()

	// Closing twice is harmless
	hub.Close()
}
