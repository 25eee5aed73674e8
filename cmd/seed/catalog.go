package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// catalogFile — формат YAML-файла каталога.
type catalogFile struct {
	Products []productEntry `yaml:"products"`
}

type productEntry struct {
	ID        int64          `yaml:"id"`
	Name      string         `yaml:"name"`
	Slug      string         `yaml:"slug"`
	Price     string         `yaml:"price"`
	SalePrice string         `yaml:"sale_price"`
	Stock     int            `yaml:"stock"`
	Variants  []variantEntry `yaml:"variants"`
}

type variantEntry struct {
	Label string `yaml:"label"`
	Stock int    `yaml:"stock"`
}

// catalogItem — товар, готовый к записи, вместе с размерами.
type catalogItem struct {
	product  domain.Product
	variants []domain.SizeVariant
}

func parseCatalog(r io.Reader) ([]catalogItem, error) {
	var file catalogFile
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("catalog is empty")
		}
		return nil, fmt.Errorf("decode catalog: %w", err)
	}

	items := make([]catalogItem, 0, len(file.Products))
	slugs := make(map[string]int)
	for i, entry := range file.Products {
		item, err := entry.toItem()
		if err != nil {
			return nil, fmt.Errorf("product #%d (%s): %w", i+1, entry.Name, err)
		}
		if prev, ok := slugs[item.product.Slug]; ok {
			return nil, fmt.Errorf("product #%d: slug %q already used by product #%d", i+1, item.product.Slug, prev)
		}
		slugs[item.product.Slug] = i + 1
		items = append(items, item)
	}
	return items, nil
}

func (e productEntry) toItem() (catalogItem, error) {
	name := strings.TrimSpace(e.Name)
	if name == "" {
		return catalogItem{}, errors.New("name is required")
	}
	if e.ID < 0 {
		return catalogItem{}, errors.New("id must not be negative")
	}

	price, err := decimal.NewFromString(strings.TrimSpace(e.Price))
	if err != nil {
		return catalogItem{}, fmt.Errorf("price: %w", err)
	}
	if !price.IsPositive() {
		return catalogItem{}, errors.New("price must be positive")
	}

	product := domain.Product{
		ID:    e.ID,
		Name:  name,
		Slug:  slug.Make(name),
		Price: price.Round(2),
		Stock: e.Stock,
	}
	if custom := strings.TrimSpace(e.Slug); custom != "" {
		if !slug.IsSlug(custom) {
			return catalogItem{}, fmt.Errorf("slug %q is not a valid slug", custom)
		}
		product.Slug = custom
	}
	if raw := strings.TrimSpace(e.SalePrice); raw != "" {
		sale, err := decimal.NewFromString(raw)
		if err != nil {
			return catalogItem{}, fmt.Errorf("sale_price: %w", err)
		}
		if !sale.IsPositive() || sale.GreaterThanOrEqual(price) {
			return catalogItem{}, errors.New("sale_price must be positive and below price")
		}
		product.SalePrice = decimal.NewNullDecimal(sale.Round(2))
	}
	if product.Stock < 0 {
		return catalogItem{}, errors.New("stock must not be negative")
	}

	item := catalogItem{product: product}
	seen := make(map[string]struct{}, len(e.Variants))
	for _, v := range e.Variants {
		label := domain.NormalizeVariant(v.Label)
		if label == "" {
			return catalogItem{}, errors.New("variant label is required")
		}
		if _, dup := seen[label]; dup {
			return catalogItem{}, fmt.Errorf("duplicate variant %q", label)
		}
		if v.Stock < 0 {
			return catalogItem{}, fmt.Errorf("variant %q: stock must not be negative", label)
		}
		seen[label] = struct{}{}
		item.variants = append(item.variants, domain.SizeVariant{Label: label, Stock: v.Stock})
	}
	return item, nil
}

// seedCatalog записывает товары и их размеры; повторный запуск перезаписывает остатки.
func seedCatalog(ctx context.Context, repo domain.ProductRepository, items []catalogItem, logger *log.Entry) (int, error) {
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		product, err := repo.UpsertProduct(ctx, item.product)
		if err != nil {
			return i, fmt.Errorf("upsert product %q: %w", item.product.Name, err)
		}
		for _, variant := range item.variants {
			variant.ProductID = product.ID
			if err := repo.UpsertVariant(ctx, variant); err != nil {
				return i, fmt.Errorf("upsert variant %q of product %d: %w", variant.Label, product.ID, err)
			}
		}
		logger.WithFields(log.Fields{
			"product_id": product.ID,
			"slug":       product.Slug,
			"variants":   len(item.variants),
		}).Debug("product seeded")
	}
	return len(items), nil
}
