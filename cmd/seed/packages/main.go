package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nusawave/prepaidnet/internal/config"
	"github.com/nusawave/prepaidnet/internal/domain"
	"github.com/nusawave/prepaidnet/internal/repository"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func gb(n int64) *int64 {
	v := n * 1024 * 1024 * 1024
	return &v
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoDB.URI))
	if err != nil {
		log.Fatalf("Failed to connect to Mongo: %v", err)
	}
	defer client.Disconnect(ctx)

	db := client.Database(cfg.MongoDB.Database)
	repo := repository.NewMongoPackageRepository(db)

	packages := []domain.Package{
		{
			Name:              "Hotspot 1 Jam",
			Description:       "1 hour hotspot voucher",
			Price:             5_000,
			DurationUnit:      domain.DurationHour,
			DurationCount:     1,
			BandwidthUpKbps:   2_048,
			BandwidthDownKbps: 5_120,
			SimultaneousUse:   1,
			IdleTimeoutSec:    300,
		},
		{
			Name:              "Hotspot Harian",
			Description:       "24 hour hotspot voucher",
			Price:             15_000,
			DurationUnit:      domain.DurationDay,
			DurationCount:     1,
			BandwidthUpKbps:   2_048,
			BandwidthDownKbps: 10_240,
			DataCapBytes:      gb(5),
			SimultaneousUse:   2,
			IdleTimeoutSec:    600,
		},
		{
			Name:              "Rumahan 10 Mbps",
			Description:       "Monthly home plan, 10 Mbps unlimited",
			Price:             175_000,
			DurationUnit:      domain.DurationMonth,
			DurationCount:     1,
			BandwidthUpKbps:   5_120,
			BandwidthDownKbps: 10_240,
			SimultaneousUse:   3,
			VlanID:            "110",
		},
		{
			Name:              "Rumahan 20 Mbps",
			Description:       "Monthly home plan, 20 Mbps unlimited",
			Price:             275_000,
			DurationUnit:      domain.DurationMonth,
			DurationCount:     1,
			BandwidthUpKbps:   10_240,
			BandwidthDownKbps: 20_480,
			SimultaneousUse:   4,
			VlanID:            "110",
		},
		{
			Name:              "Kuota 50GB Mingguan",
			Description:       "Weekly 50 GB quota plan",
			Price:             50_000,
			DurationUnit:      domain.DurationWeek,
			DurationCount:     1,
			BandwidthUpKbps:   10_240,
			BandwidthDownKbps: 30_720,
			DataCapBytes:      gb(50),
			SimultaneousUse:   2,
		},
		{
			Name:              "Trial 6 Jam",
			Description:       "Free 6 hour trial",
			Price:             0,
			DurationUnit:      domain.DurationTrial,
			DurationCount:     6,
			BandwidthUpKbps:   1_024,
			BandwidthDownKbps: 2_048,
			DataCapBytes:      gb(1),
			SimultaneousUse:   1,
			IdleTimeoutSec:    300,
			IsTrial:           true,
		},
	}

	created := 0
	for i := range packages {
		pkg := packages[i]
		pkg.Currency = "IDR"
		pkg.IsActive = true
		if err := repo.Create(ctx, &pkg); err != nil {
			log.Printf("Failed to seed %s: %v", pkg.Name, err)
			continue
		}
		created++
		fmt.Printf("Seeded %s (%s)\n", pkg.Name, pkg.ID)
	}

	fmt.Printf("Done: %d/%d packages seeded\n", created, len(packages))
}
