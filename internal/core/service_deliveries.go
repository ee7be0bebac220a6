package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strconv"
	"strings"

	"foodshare/internal/blob"
	"foodshare/pkg/domain"
)

// ErrNoBlobStore is returned by proof photo operations when the service was
// built without WithBlobStore.
var ErrNoBlobStore = errors.New("core: no blob store configured")

// CreateDelivery schedules a delivery for a claim outside the approval
// cascade. A claim already carrying a delivery is rejected.
func (s *Service) CreateDelivery(ctx context.Context, claimID string, distance float64) (Delivery, Result, error) {
	var created Delivery
	res, err := s.run(ctx, "create_delivery", func(tx domain.Transaction) (string, error) {
		pickup := tx.Now()
		var err error
		created, err = tx.CreateDelivery(Delivery{
			ClaimID:     claimID,
			Status:      domain.DeliveryStatusScheduled,
			PickupTime:  &pickup,
			Distance:    distance,
			ProofPhotos: []string{},
		})
		return created.ID, err
	})
	return created, res, err
}

// UpdateDelivery applies mutator to a delivery. DeliveryTime is never stamped
// here; use AdvanceDelivery for that.
func (s *Service) UpdateDelivery(ctx context.Context, id string, mutator func(*Delivery) error) (Delivery, Result, error) {
	var updated Delivery
	res, err := s.run(ctx, "update_delivery", func(tx domain.Transaction) (string, error) {
		var err error
		updated, err = tx.UpdateDelivery(id, mutator)
		return id, err
	})
	return updated, res, err
}

// AdvanceDelivery moves a delivery to status, stamping DeliveryTime the first
// time it becomes delivered.
func (s *Service) AdvanceDelivery(ctx context.Context, id string, status DeliveryStatus) (Delivery, Result, error) {
	var updated Delivery
	res, err := s.run(ctx, "advance_delivery", func(tx domain.Transaction) (string, error) {
		if !status.Valid() {
			return id, domain.ErrValidation{Entity: domain.EntityDelivery, Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
		}
		var err error
		updated, err = tx.UpdateDelivery(id, func(d *Delivery) error {
			if status == domain.DeliveryStatusDelivered && d.DeliveryTime == nil {
				now := tx.Now()
				d.DeliveryTime = &now
			}
			d.Status = status
			return nil
		})
		return id, err
	})
	return updated, res, err
}

// GetDelivery returns a delivery by ID.
func (s *Service) GetDelivery(id string) (Delivery, bool) {
	return s.store.GetDelivery(id)
}

// DeliveryForClaim returns the delivery of a claim, if one was scheduled.
func (s *Service) DeliveryForClaim(claimID string) (Delivery, bool) {
	return s.store.DeliveryForClaim(claimID)
}

// ListDeliveries returns every delivery ordered by creation.
func (s *Service) ListDeliveries() []Delivery {
	return s.store.ListDeliveries()
}

func proofPhotoName(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	name = strings.ReplaceAll(name, "..", "")
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == "/" {
		return "photo"
	}
	return name
}

func proofPhotoPrefix(deliveryID string) string {
	return "deliveries/" + deliveryID + "/proof/"
}

// ProofPhotoKey returns the blob key of the nth proof photo of a delivery.
func ProofPhotoKey(deliveryID string, n int, filename string) string {
	return fmt.Sprintf("%s%d-%s", proofPhotoPrefix(deliveryID), n, proofPhotoName(filename))
}

// proofPhotoIndex parses n back out of a ProofPhotoKey. Keys of other shapes
// report 0.
func proofPhotoIndex(deliveryID, key string) int {
	rest, ok := strings.CutPrefix(key, proofPhotoPrefix(deliveryID))
	if !ok {
		return 0
	}
	num, _, ok := strings.Cut(rest, "-")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(num)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// nextProofPhotoIndex picks an index past every recorded photo and every
// object already stored under the delivery's prefix, so uploads left behind
// by a failed attach never collide with a new one.
func (s *Service) nextProofPhotoIndex(ctx context.Context, d Delivery) (int, error) {
	highest := len(d.ProofPhotos)
	for _, key := range d.ProofPhotos {
		highest = max(highest, proofPhotoIndex(d.ID, key))
	}
	stored, err := s.blobs.List(ctx, proofPhotoPrefix(d.ID))
	if err != nil {
		return 0, fmt.Errorf("list proof photos: %w", err)
	}
	for _, info := range stored {
		highest = max(highest, proofPhotoIndex(d.ID, info.Key))
	}
	return highest + 1, nil
}

// AttachProofPhoto uploads a proof of delivery image and appends its key to
// the delivery. The upload is removed again if the delivery update fails.
func (s *Service) AttachProofPhoto(ctx context.Context, deliveryID, filename, contentType string, r io.Reader) (Delivery, error) {
	if s.blobs == nil {
		return Delivery{}, ErrNoBlobStore
	}
	s.photoMu.Lock()
	defer s.photoMu.Unlock()

	current, ok := s.store.GetDelivery(deliveryID)
	if !ok {
		return Delivery{}, domain.ErrNotFound{Entity: domain.EntityDelivery, ID: deliveryID}
	}
	n, err := s.nextProofPhotoIndex(ctx, current)
	if err != nil {
		return Delivery{}, err
	}
	key := ProofPhotoKey(deliveryID, n, filename)
	if _, err := s.blobs.Put(ctx, key, r, blob.PutOptions{
		ContentType: contentType,
		Metadata:    map[string]string{"delivery_id": deliveryID, "claim_id": current.ClaimID},
	}); err != nil {
		return Delivery{}, fmt.Errorf("store proof photo: %w", err)
	}

	var updated Delivery
	_, err = s.run(ctx, "attach_proof_photo", func(tx domain.Transaction) (string, error) {
		var err error
		updated, err = tx.UpdateDelivery(deliveryID, func(d *Delivery) error {
			d.ProofPhotos = append(d.ProofPhotos, key)
			return nil
		})
		return deliveryID, err
	})
	if err != nil {
		if _, delErr := s.blobs.Delete(ctx, key); delErr != nil {
			s.logger.Warn("proof photo cleanup failed", "key", key, "error", delErr)
		}
		return Delivery{}, err
	}
	return updated, nil
}

// ListProofPhotos describes the photos recorded on a delivery, in the order
// they were attached. Recorded keys with no stored object are logged and
// skipped; objects not recorded on the delivery are not returned.
func (s *Service) ListProofPhotos(ctx context.Context, deliveryID string) ([]blob.Info, error) {
	if s.blobs == nil {
		return nil, ErrNoBlobStore
	}
	d, ok := s.store.GetDelivery(deliveryID)
	if !ok {
		return nil, domain.ErrNotFound{Entity: domain.EntityDelivery, ID: deliveryID}
	}
	stored, err := s.blobs.List(ctx, proofPhotoPrefix(deliveryID))
	if err != nil {
		return nil, fmt.Errorf("list proof photos: %w", err)
	}
	byKey := make(map[string]blob.Info, len(stored))
	for _, info := range stored {
		byKey[info.Key] = info
	}
	out := make([]blob.Info, 0, len(d.ProofPhotos))
	for _, key := range d.ProofPhotos {
		info, ok := byKey[key]
		if !ok {
			s.logger.Warn("proof photo missing from blob store", "delivery_id", deliveryID, "key", key)
			continue
		}
		out = append(out, info)
	}
	return out, nil
}

// OpenProofPhoto streams a stored proof photo. The caller closes the reader.
func (s *Service) OpenProofPhoto(ctx context.Context, key string) (blob.Info, io.ReadCloser, error) {
	if s.blobs == nil {
		return blob.Info{}, nil, ErrNoBlobStore
	}
	return s.blobs.Get(ctx, key)
}

// ProofPhotoURL returns a time-limited download link when the blob backend
// supports presigning, and blob.ErrUnsupported otherwise.
func (s *Service) ProofPhotoURL(ctx context.Context, key string, opts blob.SignedURLOptions) (string, error) {
	if s.blobs == nil {
		return "", ErrNoBlobStore
	}
	return s.blobs.PresignURL(ctx, key, opts)
}
