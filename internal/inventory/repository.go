package inventory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/walamarket/internal/repo"
	dbpkg "github.com/angelmondragon/walamarket/pkg/db"
	"github.com/angelmondragon/walamarket/pkg/db/models"
	pkgerrors "github.com/angelmondragon/walamarket/pkg/errors"
)

// Repository is the gorm-backed Store.
type Repository struct {
	base repo.Base
	now  func() time.Time
}

// NewRepository builds a Store on the provided connection.
func NewRepository(db *gorm.DB) *Repository {
	if db == nil {
		return nil
	}
	return &Repository{base: repo.NewBase(db), now: time.Now}
}

func (r *Repository) WithTx(tx *gorm.DB) Store {
	if tx == nil {
		return r
	}
	return &Repository{base: r.base.Bind(tx), now: r.now}
}

func (r *Repository) TryReserve(ctx context.Context, productID uuid.UUID, holder string, expiry time.Time) (bool, error) {
	res := r.base.DB(ctx).Model(&models.Product{}).
		Where("id = ? AND reserved = ? AND sale_id IS NULL AND deleted = ?", productID, false, false).
		Updates(map[string]any{
			"reserved":           true,
			"reservation_expiry": expiry.UTC(),
			"reserved_by":        holder,
			"updated_at":         r.now().UTC(),
		})
	if res.Error != nil {
		return false, storageErr(res.Error, "reserve product")
	}
	return res.RowsAffected == 1, nil
}

// Release clears any hold on an unsold product. Sold rows are left untouched.
func (r *Repository) Release(ctx context.Context, productID uuid.UUID) error {
	res := r.base.DB(ctx).Model(&models.Product{}).
		Where("id = ? AND reserved = ? AND sale_id IS NULL", productID, true).
		Updates(clearHold(r.now()))
	return storageErr(res.Error, "release product")
}

func (r *Repository) ReleaseHeld(ctx context.Context, productID uuid.UUID, holder string) (bool, error) {
	res := r.base.DB(ctx).Model(&models.Product{}).
		Where("id = ? AND reserved = ? AND reserved_by = ? AND sale_id IS NULL", productID, true, holder).
		Updates(clearHold(r.now()))
	if res.Error != nil {
		return false, storageErr(res.Error, "release held product")
	}
	return res.RowsAffected == 1, nil
}

// ReleaseExpired clears the hold only when it lapsed strictly before asOf, so
// a hold refreshed after the caller's scan survives.
func (r *Repository) ReleaseExpired(ctx context.Context, productID uuid.UUID, asOf time.Time) (bool, error) {
	res := r.base.DB(ctx).Model(&models.Product{}).
		Where("id = ? AND reserved = ? AND reservation_expiry < ? AND sale_id IS NULL", productID, true, asOf.UTC()).
		Updates(clearHold(r.now()))
	if res.Error != nil {
		return false, storageErr(res.Error, "release expired product")
	}
	return res.RowsAffected == 1, nil
}

func (r *Repository) GetReservationState(ctx context.Context, productID uuid.UUID) (*ReservationState, error) {
	product, err := r.FindByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	return stateOf(*product), nil
}

func (r *Repository) ScanReserved(ctx context.Context) ([]models.Product, error) {
	var rows []models.Product
	err := r.base.DB(ctx).
		Where("reserved = ?", true).
		Order("reservation_expiry ASC").
		Find(&rows).Error
	if err != nil {
		return nil, storageErr(err, "scan reserved products")
	}
	return rows, nil
}

// CommitSale inserts the sale and binds every product to it in one
// transaction. A product that is no longer held by the session (expired,
// released, sold elsewhere or delisted) fails the whole commit with
// ErrHoldLost.
func (r *Repository) CommitSale(ctx context.Context, req CommitRequest) (*models.Sale, error) {
	ids := uniqueIDs(req.ProductIDs)
	if len(ids) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sale requires at least one product")
	}
	if req.SessionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id is required")
	}
	asOf := req.AsOf.UTC()
	if req.AsOf.IsZero() {
		asOf = r.now().UTC()
	}

	var sale *models.Sale
	err := r.base.Atomic(ctx, func(tx *gorm.DB) error {
		record := models.Sale{
			BuyerID:   req.BuyerID,
			SessionID: req.SessionID,
			Total:     decimal.Zero,
			CreatedAt: asOf,
		}
		if err := tx.Create(&record).Error; err != nil {
			return storageErr(err, "insert sale")
		}

		res := tx.Model(&models.Product{}).
			Where("id IN ? AND reserved = ? AND reserved_by = ? AND reservation_expiry > ? AND sale_id IS NULL AND deleted = ?",
				ids, true, req.SessionID, asOf, false).
			Updates(map[string]any{
				"sale_id":            record.ID,
				"reserved":           false,
				"reservation_expiry": nil,
				"reserved_by":        nil,
				"updated_at":         asOf,
			})
		if res.Error != nil {
			return storageErr(res.Error, "mark products sold")
		}
		if res.RowsAffected != int64(len(ids)) {
			return ErrHoldLost
		}

		products, err := findOrdered(tx, ids)
		if err != nil {
			return err
		}
		total := decimal.Zero
		for _, p := range products {
			total = total.Add(p.Price)
		}
		if err := tx.Model(&record).Update("total", total).Error; err != nil {
			return storageErr(err, "store sale total")
		}
		record.Total = total
		record.Products = products
		sale = &record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sale, nil
}

func (r *Repository) CreateProduct(ctx context.Context, product *models.Product) error {
	if product == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "product is required")
	}
	if product.Price.IsNegative() {
		return pkgerrors.New(pkgerrors.CodeValidation, "price must be non-negative")
	}
	err := r.base.DB(ctx).Create(product).Error
	if dbpkg.IsUniqueViolation(err, "") {
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "product already exists")
	}
	return storageErr(err, "create product")
}

func (r *Repository) FindByID(ctx context.Context, productID uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := r.base.DB(ctx).Where("id = ?", productID).First(&product).Error
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, ErrProductNotFound
		}
		return nil, storageErr(err, "load product")
	}
	return &product, nil
}

// FindByIDs returns the products in the order requested. Unknown ids are skipped.
func (r *Repository) FindByIDs(ctx context.Context, productIDs []uuid.UUID) ([]models.Product, error) {
	return findOrdered(r.base.DB(ctx), productIDs)
}

// SoftDelete delists an unsold product and drops any hold it had.
func (r *Repository) SoftDelete(ctx context.Context, productID uuid.UUID, deletedBy string) (bool, error) {
	now := r.now().UTC()
	updates := clearHold(now)
	updates["deleted"] = true
	updates["deleted_at"] = now
	updates["deleted_by"] = deletedBy
	res := r.base.DB(ctx).Model(&models.Product{}).
		Where("id = ? AND deleted = ? AND sale_id IS NULL", productID, false).
		Updates(updates)
	if res.Error != nil {
		return false, storageErr(res.Error, "delete product")
	}
	return res.RowsAffected == 1, nil
}

func (r *Repository) FindSale(ctx context.Context, saleID uuid.UUID) (*models.Sale, error) {
	var sale models.Sale
	err := r.base.DB(ctx).
		Preload("Products", func(db *gorm.DB) *gorm.DB { return db.Order("name ASC") }).
		Where("id = ?", saleID).
		First(&sale).Error
	if err != nil {
		if dbpkg.IsNotFound(err) {
			return nil, ErrSaleNotFound
		}
		return nil, storageErr(err, "load sale")
	}
	return &sale, nil
}

func (r *Repository) ListSalesByBuyer(ctx context.Context, buyerID uuid.UUID) ([]models.Sale, error) {
	var sales []models.Sale
	err := r.base.DB(ctx).
		Preload("Products", func(db *gorm.DB) *gorm.DB { return db.Order("name ASC") }).
		Where("buyer_id = ?", buyerID).
		Order("created_at DESC").
		Find(&sales).Error
	if err != nil {
		return nil, storageErr(err, "list sales")
	}
	return sales, nil
}

func findOrdered(db *gorm.DB, productIDs []uuid.UUID) ([]models.Product, error) {
	ids := uniqueIDs(productIDs)
	if len(ids) == 0 {
		return []models.Product{}, nil
	}
	var rows []models.Product
	if err := db.Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, storageErr(err, "load products")
	}
	byID := make(map[uuid.UUID]models.Product, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}
	ordered := make([]models.Product, 0, len(rows))
	for _, id := range ids {
		if row, ok := byID[id]; ok {
			ordered = append(ordered, row)
		}
	}
	return ordered, nil
}

func clearHold(now time.Time) map[string]any {
	return map[string]any{
		"reserved":           false,
		"reservation_expiry": nil,
		"reserved_by":        nil,
		"updated_at":         now.UTC(),
	}
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func storageErr(err error, op string) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
}
