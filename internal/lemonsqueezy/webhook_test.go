package lemonsqueezy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const subscriptionCreated = `{
  "meta": {"event_name": "subscription_created", "test_mode": true, "custom_data": {"user_id": "u-42"}},
  "data": {
    "type": "subscriptions",
    "id": "1001",
    "attributes": {
      "store_id": 1, "customer_id": 2, "order_id": 3, "order_item_id": 4,
      "product_id": 5, "variant_id": 758320,
      "product_name": "Doclama Pro", "variant_name": "Monthly",
      "user_name": "Ada", "user_email": "ada@example.com",
      "status": "on_trial", "status_formatted": "On Trial",
      "pause": null, "cancelled": false,
      "trial_ends_at": "2024-02-01T00:00:00.000000Z",
      "renews_at": "2024-02-01T00:00:00.000000Z",
      "ends_at": null,
      "first_subscription_item": {"id": 9, "subscription_id": 1001, "price_id": 77, "quantity": 1, "is_usage_based": false}
    }
  }
}`

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"meta":{}}`)
	sig := Sign("s3cret", body)

	require.NoError(t, VerifySignature("s3cret", body, sig))
	assert.ErrorIs(t, VerifySignature("other", body, sig), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature("s3cret", []byte(`{}`), sig), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature("s3cret", body, "not-hex"), ErrInvalidSignature)
	assert.ErrorIs(t, VerifySignature("", body, sig), ErrInvalidSignature)
}

func TestParseWebhookSubscription(t *testing.T) {
	wh, err := ParseWebhook([]byte(subscriptionCreated))
	require.NoError(t, err)
	assert.Equal(t, "subscription_created", wh.Meta.EventName)
	assert.Equal(t, "u-42", wh.Meta.UserID())
	assert.Equal(t, "1001", wh.Data.ID)

	attrs, err := wh.Data.SubscriptionAttributes()
	require.NoError(t, err)
	assert.Equal(t, "on_trial", attrs.Status)
	assert.Equal(t, "On Trial", attrs.StatusFormatted)
	assert.False(t, attrs.IsPaused())
	require.NotNil(t, attrs.TrialEndsAt)
	assert.Nil(t, attrs.EndsAt)
	require.NotNil(t, attrs.FirstSubscriptionItem)
	assert.EqualValues(t, 77, attrs.FirstSubscriptionItem.PriceID)
}

func TestParseWebhookRequiresEventName(t *testing.T) {
	_, err := ParseWebhook([]byte(`{"meta":{},"data":{}}`))
	assert.Error(t, err)

	_, err = ParseWebhook([]byte(`not json`))
	assert.Error(t, err)
}

func TestWebhookMetaNumericUserID(t *testing.T) {
	wh, err := ParseWebhook([]byte(`{"meta":{"event_name":"order_created","custom_data":{"user_id":17}}}`))
	require.NoError(t, err)
	assert.Equal(t, "17", wh.Meta.UserID())
}

func TestSubscriptionAttributesRejectsOtherResources(t *testing.T) {
	wh, err := ParseWebhook([]byte(`{"meta":{"event_name":"order_created"},"data":{"type":"orders","id":"1","attributes":{}}}`))
	require.NoError(t, err)

	_, err = wh.Data.SubscriptionAttributes()
	assert.Error(t, err)
}

func TestIsPausedWithPauseObject(t *testing.T) {
	attrs := SubscriptionAttributes{Pause: []byte(`{"mode":"void","resumes_at":null}`)}
	assert.True(t, attrs.IsPaused())
}
