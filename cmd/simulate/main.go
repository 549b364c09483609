package main

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"

	"virtual-market/internal/database"
	"virtual-market/internal/domain"
	"virtual-market/internal/logging"
	"virtual-market/internal/notify"
	"virtual-market/internal/repo"
	"virtual-market/internal/service"
)

// Simulate drives a batch of orders through the lifecycle and prints what a
// dashboard would have seen. Set DATABASE_URL to run against Postgres.
func main() {
	ctx := context.Background()
	log := logging.New("warn")

	orderRepo := repo.NewMemoryOrderRepo()
	if url := os.Getenv("DATABASE_URL"); url != "" {
		db, err := database.NewPostgres(ctx, url)
		if err != nil {
			log.Fatalf("db connect error: %v", err)
		}
		defer db.Close()
		if err := database.Migrate(ctx, db); err != nil {
			log.Fatalf("db migrate error: %v", err)
		}
		orderRepo = repo.NewOrderRepo(db)
	}

	hub := notify.NewHub(log, nil)
	dashboard := hub.Register("simulate")
	var received atomic.Int64
	done := make(chan struct{})
	go func() {
		for range dashboard.Messages() {
			received.Add(1)
		}
		close(done)
	}()

	dispatcher := notify.NewDispatcher(log, notify.DispatcherOptions{}, hub)
	orderService := service.NewOrderService(orderRepo, dispatcher, log, service.Options{DeliveryWindow: 2 * time.Hour})

	paths := [][]domain.OrderStatus{
		{domain.StatusProcessing, domain.StatusDelivering, domain.StatusDelivered},
		{domain.StatusProcessing, domain.StatusCancelled},
		{domain.StatusRefused},
		{domain.StatusProcessing, domain.StatusDelivering, domain.StatusDelivered, domain.StatusNew},
		{},
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("#", "Order", "Total", "Path", "Final", "Rejected")

	fmt.Println("--- STARTING SIMULATION (10 ORDERS) ---")
	for i := 0; i < 10; i++ {
		order, err := orderService.CreateOrder(ctx, submission(i))
		if err != nil {
			fmt.Printf("[%d] create failed: %v\n", i+1, err)
			continue
		}

		path := paths[i%len(paths)]
		rejected := "-"
		applied := "new"
		for _, next := range path {
			if _, err := orderService.UpdateStatus(ctx, order.ID, next); err != nil {
				rejected = err.Error()
				break
			}
			applied += " > " + string(next)
		}

		tracking, err := orderService.TrackOrder(ctx, order.OrderNumber)
		if err != nil {
			fmt.Printf("[%d] track failed: %v\n", i+1, err)
			continue
		}
		_ = table.Append([]string{
			fmt.Sprint(i + 1),
			order.OrderNumber,
			order.Total.String(),
			applied,
			string(tracking.Status),
			rejected,
		})
	}
	_ = table.Render()

	dispatcher.Close()
	hub.Unregister(dashboard)
	<-done
	fmt.Printf("dashboard events received: %d\n", received.Load())
}

func submission(i int) domain.Submission {
	return domain.Submission{
		CustomerName:  fmt.Sprintf("Customer %d", i+1),
		Phone:         fmt.Sprintf("+3749900%04d", i),
		Email:         fmt.Sprintf("customer%d@example.com", i+1),
		Address:       "Yerevan, Abovyan 1",
		PaymentMethod: string(domain.PaymentCash),
		Items: []domain.SubmissionItem{
			{Name: "Milk", Price: decimal.NewFromInt(450), Quantity: 1 + i%3},
			{Name: "Bread", Price: decimal.NewFromInt(300), Quantity: 1},
		},
	}
}
