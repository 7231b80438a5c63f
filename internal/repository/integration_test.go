package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/averix/go-order-api/internal/model"
)

func createTestUser(t *testing.T, email string) *model.User {
	t.Helper()
	user := &model.User{
		Email: email, Password: "hashed",
		FirstName: "Test", LastName: "User", Role: "customer",
	}
	require.NoError(t, NewUserRepository(testPool).Create(context.Background(), user))
	return user
}

func createTestProduct(t *testing.T, price int64, stock int) *model.Product {
	t.Helper()
	product := &model.Product{
		Name: "Widget", Description: "Test widget",
		Price: price, Stock: stock, WeightGrams: 500,
	}
	require.NoError(t, NewProductRepository(testPool).Create(context.Background(), product))
	return product
}

func createTestOrder(t *testing.T, userID uuid.UUID, items []model.OrderItem) *model.Order {
	t.Helper()
	var subtotal int64
	for _, item := range items {
		subtotal += item.Subtotal
	}
	order := &model.Order{
		Number: "ORD-20260101-" + uuid.NewString()[:8],
		UserID: userID, Status: model.OrderStatusPending,
		Subtotal: subtotal, ShippingCost: 15000,
		TotalAmount:     subtotal + 15000,
		ShippingMethod:  "regular",
		ShippingAddress: "Test, 555, 1 Main St, Springfield",
		PaymentMethod:   "bank_transfer",
		Items:           items,
	}
	repo := NewOrderRepository(testPool)
	require.NoError(t, repo.InTx(context.Background(), func(tx pgx.Tx) error {
		return repo.CreateWithItems(context.Background(), tx, order)
	}))
	return order
}

func TestUserRepo_CreateAndGetByEmail(t *testing.T) {
	cleanupTable(t, allTables...)

	repo := NewUserRepository(testPool)
	ctx := context.Background()

	user := createTestUser(t, "test@example.com")
	assert.NotEqual(t, uuid.Nil, user.ID)

	found, err := repo.GetByEmail(ctx, "test@example.com")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, user.ID, found.ID)

	missing, err := repo.GetByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUserRepo_Addresses(t *testing.T) {
	cleanupTable(t, allTables...)

	repo := NewUserRepository(testPool)
	ctx := context.Background()
	user := createTestUser(t, "addr@example.com")

	address := &model.Address{
		UserID: user.ID, Label: "home", Recipient: "Test User",
		Phone: "555", Street: "1 Main St", City: "Springfield", AreaCode: "502",
	}
	require.NoError(t, repo.CreateAddress(ctx, address))

	found, err := repo.GetAddress(ctx, address.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "502", found.AreaCode)
	assert.Equal(t, user.ID, found.UserID)
}

func TestProductRepo_DecrementStock(t *testing.T) {
	cleanupTable(t, allTables...)

	repo := NewProductRepository(testPool)
	ctx := context.Background()
	product := createTestProduct(t, 20000, 3)

	tx, err := testPool.Begin(ctx)
	require.NoError(t, err)
	ok, err := repo.DecrementStock(ctx, tx, product.ID, 2)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, tx.Commit(ctx))

	// Not enough left for another 2.
	tx, err = testPool.Begin(ctx)
	require.NoError(t, err)
	ok, err = repo.DecrementStock(ctx, tx, product.ID, 2)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, tx.Rollback(ctx))

	found, err := repo.GetByID(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, found.Stock)

	tx, err = testPool.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.RestoreStock(ctx, tx, product.ID, 2))
	require.NoError(t, tx.Commit(ctx))

	found, _ = repo.GetByID(ctx, product.ID)
	assert.Equal(t, 3, found.Stock)
}

func TestCartRepo_AddAndGetItems(t *testing.T) {
	cleanupTable(t, allTables...)

	cartRepo := NewCartRepository(testPool)
	ctx := context.Background()
	user := createTestUser(t, "cart@example.com")
	product := createTestProduct(t, 15000, 10)

	cart, err := cartRepo.GetOrCreateCart(ctx, user.ID)
	require.NoError(t, err)

	// A second call for the same user lands on the same cart row.
	again, err := cartRepo.GetOrCreateCart(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, cart.ID, again.ID)

	require.NoError(t, cartRepo.AddItem(ctx, &model.CartItem{
		CartID: cart.ID, ProductID: product.ID, Quantity: 2,
	}))
	// Same product again merges into one line.
	require.NoError(t, cartRepo.AddItem(ctx, &model.CartItem{
		CartID: cart.ID, ProductID: product.ID, Quantity: 1,
	}))

	cartWithItems, err := cartRepo.GetCartWithItems(ctx, cart.ID)
	require.NoError(t, err)
	require.Len(t, cartWithItems.Items, 1)
	assert.Equal(t, 3, cartWithItems.Items[0].Quantity)

	line := cartWithItems.Items[0]
	line.Quantity = 5
	require.NoError(t, cartRepo.UpdateItem(ctx, &line))
	cartWithItems, err = cartRepo.GetCartWithItems(ctx, cart.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, cartWithItems.Items[0].Quantity)

	// Updating a line that no longer exists surfaces the miss.
	err = cartRepo.UpdateItem(ctx, &model.CartItem{ID: uuid.New(), Quantity: 1})
	assert.ErrorIs(t, err, pgx.ErrNoRows)

	require.NoError(t, cartRepo.ClearCart(ctx, cart.ID))
	cartWithItems, _ = cartRepo.GetCartWithItems(ctx, cart.ID)
	assert.Empty(t, cartWithItems.Items)
}

func TestOrderRepo_CreateAndGet(t *testing.T) {
	cleanupTable(t, allTables...)

	repo := NewOrderRepository(testPool)
	ctx := context.Background()
	user := createTestUser(t, "order@example.com")
	product := createTestProduct(t, 25000, 10)

	order := createTestOrder(t, user.ID, []model.OrderItem{
		{ProductID: product.ID, Name: product.Name, Price: 25000, Quantity: 2, Subtotal: 50000},
	})
	assert.NotEqual(t, uuid.Nil, order.ID)

	found, err := repo.GetByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPending, found.Status)
	assert.Equal(t, int64(65000), found.TotalAmount)
	require.Len(t, found.Items, 1)
	assert.Equal(t, int64(50000), found.Items[0].Subtotal)

	byNumber, err := repo.GetByNumber(ctx, order.Number)
	require.NoError(t, err)
	require.NotNil(t, byNumber)
	assert.Equal(t, order.ID, byNumber.ID)

	list, err := repo.ListByUserID(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestOrderRepo_StatusTransitions(t *testing.T) {
	cleanupTable(t, allTables...)

	repo := NewOrderRepository(testPool)
	ctx := context.Background()
	user := createTestUser(t, "lifecycle@example.com")
	product := createTestProduct(t, 25000, 10)
	order := createTestOrder(t, user.ID, []model.OrderItem{
		{ProductID: product.ID, Name: product.Name, Price: 25000, Quantity: 1, Subtotal: 25000},
	})

	// Shipping a pending order matches no row.
	require.NoError(t, repo.InTx(ctx, func(tx pgx.Tx) error {
		ok, err := repo.MarkShipped(ctx, tx, order.ID, "TRACK-1")
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	}))

	require.NoError(t, repo.InTx(ctx, func(tx pgx.Tx) error {
		ok, err := repo.ConfirmPayment(ctx, tx, order.ID, "txn-1")
		require.NoError(t, err)
		assert.True(t, ok)
		// The guard already moved the row off pending.
		ok, err = repo.ConfirmPayment(ctx, tx, order.ID, "txn-2")
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	}))

	found, _ := repo.GetByID(ctx, order.ID)
	assert.Equal(t, model.OrderStatusProcessing, found.Status)
	assert.Equal(t, "txn-1", found.PaymentTxnID)

	require.NoError(t, repo.InTx(ctx, func(tx pgx.Tx) error {
		ok, err := repo.MarkShipped(ctx, tx, order.ID, "TRACK-1")
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = repo.MarkCompleted(ctx, tx, order.ID)
		require.NoError(t, err)
		assert.True(t, ok)
		return nil
	}))

	found, _ = repo.GetByID(ctx, order.ID)
	assert.Equal(t, model.OrderStatusCompleted, found.Status)
	assert.Equal(t, "TRACK-1", found.TrackingNumber)
}

func TestOrderRepo_SetInvoiceOnlyWhilePending(t *testing.T) {
	cleanupTable(t, allTables...)

	repo := NewOrderRepository(testPool)
	ctx := context.Background()
	user := createTestUser(t, "invoice@example.com")
	product := createTestProduct(t, 25000, 10)
	order := createTestOrder(t, user.ID, []model.OrderItem{
		{ProductID: product.ID, Name: product.Name, Price: 25000, Quantity: 1, Subtotal: 25000},
	})

	expires := time.Now().Add(24 * time.Hour)
	ok, err := repo.SetInvoice(ctx, order.ID, "inv-1", "https://pay.example.com/inv-1", expires)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, repo.InTx(ctx, func(tx pgx.Tx) error {
		_, err := repo.ConfirmPayment(ctx, tx, order.ID, "txn-1")
		return err
	}))

	ok, err = repo.SetInvoice(ctx, order.ID, "inv-2", "u", expires)
	require.NoError(t, err)
	assert.False(t, ok)

	found, _ := repo.GetByID(ctx, order.ID)
	assert.Equal(t, "inv-1", found.InvoiceID)
}

func TestOrderRepo_CancellationFlow(t *testing.T) {
	cleanupTable(t, allTables...)

	repo := NewOrderRepository(testPool)
	ctx := context.Background()
	user := createTestUser(t, "cancel@example.com")
	product := createTestProduct(t, 25000, 10)
	order := createTestOrder(t, user.ID, []model.OrderItem{
		{ProductID: product.ID, Name: product.Name, Price: 25000, Quantity: 1, Subtotal: 25000},
	})

	require.NoError(t, repo.InTx(ctx, func(tx pgx.Tx) error {
		// The flag only applies to processing orders.
		ok, err := repo.RequestCancellation(ctx, tx, order.ID, "changed my mind")
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = repo.ConfirmPayment(ctx, tx, order.ID, "txn-1")
		require.NoError(t, err)

		ok, err = repo.RequestCancellation(ctx, tx, order.ID, "changed my mind")
		require.NoError(t, err)
		assert.True(t, ok)

		// Second request is a no-op while one is pending.
		ok, err = repo.RequestCancellation(ctx, tx, order.ID, "again")
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	}))

	require.NoError(t, repo.InTx(ctx, func(tx pgx.Tx) error {
		locked, err := repo.GetForUpdate(ctx, tx, order.ID)
		require.NoError(t, err)
		require.NotNil(t, locked)
		assert.True(t, locked.CancelRequested)
		assert.Equal(t, "changed my mind", locked.CancelReason)
		require.Len(t, locked.Items, 1)

		ok, err := repo.Cancel(ctx, tx, order.ID, model.OrderStatusProcessing, locked.CancelReason)
		require.NoError(t, err)
		assert.True(t, ok)
		return nil
	}))

	found, _ := repo.GetByID(ctx, order.ID)
	assert.Equal(t, model.OrderStatusCancelled, found.Status)
	assert.False(t, found.CancelRequested)

	// Terminal: the guarded cancel cannot fire twice.
	require.NoError(t, repo.InTx(ctx, func(tx pgx.Tx) error {
		ok, err := repo.Cancel(ctx, tx, order.ID, model.OrderStatusProcessing, "again")
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	}))
}

func TestReviewRepo_DuplicateAndVisibility(t *testing.T) {
	cleanupTable(t, allTables...)

	repo := NewReviewRepository(testPool)
	ctx := context.Background()
	user := createTestUser(t, "review@example.com")
	product := createTestProduct(t, 25000, 10)
	order := createTestOrder(t, user.ID, []model.OrderItem{
		{ProductID: product.ID, Name: product.Name, Price: 25000, Quantity: 1, Subtotal: 25000},
	})
	itemID := order.Items[0].ID

	review := &model.Review{
		OrderItemID: itemID, UserID: user.ID, ProductID: product.ID,
		Rating: 5, Comment: "great", Status: model.ReviewStatusShow,
	}
	require.NoError(t, repo.Create(ctx, review))

	dup := &model.Review{
		OrderItemID: itemID, UserID: user.ID, ProductID: product.ID,
		Rating: 1, Comment: "again", Status: model.ReviewStatusShow,
	}
	err := repo.Create(ctx, dup)
	assert.ErrorIs(t, err, ErrDuplicateReview)

	ok, err := repo.SetStatus(ctx, review.ID, model.ReviewStatusHide)
	require.NoError(t, err)
	assert.True(t, ok)

	visible, err := repo.ListByProductID(ctx, product.ID, true)
	require.NoError(t, err)
	assert.Empty(t, visible)

	all, err := repo.ListByProductID(ctx, product.ID, false)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, model.ReviewStatusHide, all[0].Status)
}

func TestAuditRepo_Insert(t *testing.T) {
	cleanupTable(t, allTables...)

	repo := NewAuditRepository(testPool)
	orderRepo := NewOrderRepository(testPool)
	ctx := context.Background()
	user := createTestUser(t, "audit@example.com")

	// Outside a transaction.
	entry := &model.ActivityLog{
		ActorID: user.ID, ActorRole: "customer",
		Action: "order.create", EntityType: "order",
		EntityID: uuid.NewString(), Details: `{"status":"pending"}`,
	}
	require.NoError(t, repo.InsertActivity(ctx, nil, entry))
	assert.NotEqual(t, uuid.Nil, entry.ID)
	assert.False(t, entry.CreatedAt.IsZero())

	// Inside one: rolled back together with the surrounding work.
	err := orderRepo.InTx(ctx, func(tx pgx.Tx) error {
		if err := repo.InsertActivity(ctx, tx, &model.ActivityLog{
			ActorID: user.ID, ActorRole: "customer",
			Action: "order.cancel", EntityType: "order",
			EntityID: uuid.NewString(), Details: "{}",
		}); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	var count int
	require.NoError(t, testPool.QueryRow(ctx,
		"SELECT COUNT(*) FROM activity_logs WHERE action = 'order.cancel'").Scan(&count))
	assert.Equal(t, 0, count)

	access := &model.AccessLog{Email: "audit@example.com", IP: "10.0.0.1", UserAgent: "test", Success: true}
	require.NoError(t, repo.InsertAccess(ctx, access))
	assert.NotEqual(t, uuid.Nil, access.ID)
}
