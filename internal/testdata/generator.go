// Package testdata builds synthetic debtors and CSV files for tests and the
// dev seed command.
package testdata

import (
	"context"
	"encoding/csv"
	"fmt"
	"math/rand"
	"strings"

	"github.com/jask/debtdesk/internal/creditors"
	"github.com/jask/debtdesk/internal/database/repository"
)

var (
	firstNames = []string{"ANA", "LUIS", "MARIA", "JORGE", "SOFIA", "DIEGO", "LUCIA", "PABLO"}
	lastNames  = []string{"PEREZ", "GOMEZ", "RODRIGUEZ", "FERNANDEZ", "LOPEZ", "DIAZ", "MARTINEZ", "SOSA"}
)

// Debtors returns n valid debtors with distinct credit numbers. The same
// seed gives the same debtors.
func Debtors(n int, seed int64) []repository.Debtor {
	rng := rand.New(rand.NewSource(seed))
	catalog := creditors.All()
	out := make([]repository.Debtor, n)
	for i := range out {
		first := firstNames[rng.Intn(len(firstNames))]
		last := lastNames[rng.Intn(len(lastNames))]
		debt := float64(rng.Intn(5_000_000)+1000) / 100
		out[i] = repository.Debtor{
			TaxID:          fmt.Sprintf("20%08d%d", rng.Intn(100_000_000), rng.Intn(10)),
			Name:           first + " " + last,
			Email:          strings.ToLower(fmt.Sprintf("%s.%s%d@example.com", first, last, i)),
			Phone:          fmt.Sprintf("11%08d", rng.Intn(100_000_000)),
			Creditor:       catalog[rng.Intn(len(catalog))],
			CreditNumber:   fmt.Sprintf("%d", 100000+i),
			CurrentDebt:    debt,
			SettlementDebt: float64(int(debt*80)) / 100,
		}
	}
	return out
}

// CSV renders debtors as a headerless file in column order, using delim as
// the separator. Amounts alternate between plain and es-AR notation.
func CSV(debtors []repository.Debtor, delim rune) string {
	var b strings.Builder
	w := csv.NewWriter(&b)
	w.Comma = delim
	for i, d := range debtors {
		_ = w.Write([]string{
			d.TaxID,
			d.Name,
			d.Email,
			d.Phone,
			strings.ToUpper(d.Creditor.ID),
			amount(d.CurrentDebt, i),
			amount(d.SettlementDebt, i),
			d.CreditNumber,
		})
	}
	w.Flush()
	return b.String()
}

func amount(v float64, i int) string {
	plain := fmt.Sprintf("%.2f", v)
	if i%2 == 0 {
		return plain
	}
	return "$ " + strings.Replace(plain, ".", ",", 1)
}

// Repos bundles the repositories Seed writes to.
type Repos struct {
	Collections *repository.CollectionRepo
	Debtors     *repository.DebtorRepo
	Templates   *repository.TemplateRepo
}

// Seed creates a sample collection of n debtors and the default template.
func Seed(ctx context.Context, repos Repos, n int, seed int64) (repository.Collection, error) {
	if err := repository.SeedDefaults(ctx, repos.Templates); err != nil {
		return repository.Collection{}, err
	}
	color := "#3b82f6"
	c, err := repos.Collections.Create(ctx, "Muestra", &color)
	if err != nil {
		return repository.Collection{}, err
	}
	if err := repos.Debtors.SaveRecords(ctx, c.ID, Debtors(n, seed), "muestra.csv"); err != nil {
		return repository.Collection{}, err
	}
	return repos.Collections.Get(ctx, c.ID)
}
