package domain

import (
	"errors"
	"testing"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

func TestPerformanceFeeWithHurdle(t *testing.T) {
	tests := []struct {
		name     string
		capital  string
		proceeds string
		carry    Rate
		hurdle   Rate
		years    string
		want     string
	}{
		{"carry above hurdle", "1000000", "3000000", 2000, 800, "4", "336000.00"},
		{"profit equal to hurdle", "1000000", "1320000", 2000, 800, "4", "0"},
		{"profit below hurdle", "1000000", "1100000", 2000, 800, "4", "0"},
		{"loss", "1000000", "900000", 2000, 800, "4", "0"},
		{"zero carry", "1000000", "3000000", 0, 800, "4", "0"},
		{"no hurdle", "1000000", "1500000", 2000, 0, "2", "100000.00"},
		{"fractional years", "1000000", "2000000", 2000, 800, "1.5", "176000.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PerformanceFeeWithHurdle(dec(tt.capital), dec(tt.proceeds), tt.carry, tt.hurdle, dec(tt.years))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(dec(tt.want)) {
				t.Errorf("fee = %s, want %s", got, tt.want)
			}
		})
	}

	if !HurdleReturn(dec("1000000"), 800, dec("4")).Equal(dec("320000")) {
		t.Errorf("hurdle return mismatch")
	}
	if !ProfitAboveHurdle(dec("1000000"), dec("3000000"), 800, dec("4")).Equal(dec("1680000")) {
		t.Errorf("profit above hurdle mismatch")
	}
}

func TestHurdleInvariant(t *testing.T) {
	capital := dec("250000")
	for hurdle := Rate(0); hurdle <= 2000; hurdle += 100 {
		for years := int64(1); years <= 10; years++ {
			y := decimal.NewFromInt(years)
			// proceeds exactly at and just under the hurdle line
			line := capital.Add(HurdleReturn(capital, hurdle, y))
			for _, proceeds := range []decimal.Decimal{line, line.Sub(dec("0.01")), capital} {
				got, err := PerformanceFeeWithHurdle(capital, proceeds, 2000, hurdle, y)
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if !got.IsZero() {
					t.Fatalf("hurdle %s years %d proceeds %s: fee %s, want 0", hurdle, years, proceeds, got)
				}
			}
		}
	}
}

func TestProRataManagementFee(t *testing.T) {
	start := civil.Date{Year: 2024, Month: 1, Day: 1}
	tests := []struct {
		name  string
		base  string
		rate  Rate
		end   civil.Date
		basis int
		want  string
	}{
		{"91 day quarter", "500000", 150, start.AddDays(90), 365, "1869.86"},
		{"single day", "365000", 100, start, 365, "10.00"},
		{"360 basis", "360000", 100, start.AddDays(359), 360, "3600.00"},
		{"default basis", "500000", 150, start.AddDays(90), 0, "1869.86"},
		{"reversed period", "500000", 150, start.AddDays(-3), 365, "0"},
		{"zero rate", "500000", 0, start.AddDays(90), 365, "0"},
		{"zero base", "0", 150, start.AddDays(90), 365, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ProRataManagementFee(dec(tt.base), tt.rate, start, tt.end, tt.basis)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(dec(tt.want)) {
				t.Errorf("fee = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPerformanceFee(t *testing.T) {
	tests := []struct {
		name   string
		shares string
		entry  string
		exit   string
		hwm    *decimal.Decimal
		want   string
	}{
		{"gain", "10000", "23.52", "50.00", nil, "52960.00"},
		{"flat price", "10000", "50.00", "50.00", nil, "0"},
		{"loss", "10000", "50.00", "23.52", nil, "0"},
		{"above high water mark", "100", "10", "15", decPtr("12"), "60.00"},
		{"below high water mark", "100", "10", "15", decPtr("16"), "0"},
		{"high water mark under entry", "100", "10", "15", decPtr("8"), "100.00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PerformanceFeeWithHighWaterMark(dec(tt.shares), dec(tt.entry), dec(tt.exit), tt.hwm, 2000)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(dec(tt.want)) {
				t.Errorf("fee = %s, want %s", got, tt.want)
			}
			if got.IsNegative() {
				t.Errorf("negative fee %s", got)
			}
		})
	}
}

func TestTieredPerformanceFee(t *testing.T) {
	tiers := []Tier{
		{RateBps: 3000},
		{RateBps: 2000, ThresholdMultiplier: decPtr("2.0")},
	}
	tests := []struct {
		name     string
		proceeds string
		want     string
	}{
		{"inside first tier", "1500000", "100000.00"},
		{"at first threshold", "2000000", "200000.00"},
		{"into uncapped tier", "3000000", "500000.00"},
		{"no gain", "1000000", "0"},
		{"loss", "800000", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TieredPerformanceFee(dec("1000000"), dec(tt.proceeds), tiers)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(dec(tt.want)) {
				t.Errorf("fee = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestTieredPerformanceFeeWithHurdle(t *testing.T) {
	capital, proceeds := dec("1000000"), dec("3000000")
	tests := []struct {
		name  string
		tier1 Tier
		tier2 *Tier
		want  string
	}{
		{
			name:  "single rate fallback",
			tier1: Tier{RateBps: 2000},
			want:  "336000.00",
		},
		{
			name:  "two tiers",
			tier1: Tier{RateBps: 2000, ThresholdMultiplier: decPtr("2.0")},
			tier2: &Tier{RateBps: 3000},
			want:  "436000.00",
		},
		{
			name:  "capped second tier",
			tier1: Tier{RateBps: 2000, ThresholdMultiplier: decPtr("2.0")},
			tier2: &Tier{RateBps: 3000, ThresholdMultiplier: decPtr("2.5")},
			want:  "286000.00",
		},
		{
			name:  "first tier only",
			tier1: Tier{RateBps: 2000, ThresholdMultiplier: decPtr("2.0")},
			want:  "136000.00",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TieredPerformanceFeeWithHurdle(capital, proceeds, 800, dec("4"), tt.tier1, tt.tier2)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(dec(tt.want)) {
				t.Errorf("fee = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSimpleCalculators(t *testing.T) {
	sub, _ := SubscriptionFee(dec("200000"), 200, nil)
	if !sub.Equal(dec("4000.00")) {
		t.Errorf("subscription = %s", sub)
	}
	flat, _ := SubscriptionFee(dec("200000"), 200, decPtr("750"))
	if !flat.Equal(dec("750.00")) {
		t.Errorf("flat subscription = %s", flat)
	}
	none, _ := SubscriptionFee(dec("200000"), 0, nil)
	if !none.IsZero() {
		t.Errorf("subscription with no rate = %s", none)
	}

	mgmt, _ := ManagementFee(dec("100000"), 100, 4)
	if !mgmt.Equal(dec("4000.00")) {
		t.Errorf("upfront management = %s", mgmt)
	}

	if got := SpreadFee(dec("1000"), dec("12.50"), dec("10.00")); !got.Equal(dec("2500.00")) {
		t.Errorf("spread = %s", got)
	}
	if got := SpreadFee(dec("1000"), dec("9.00"), dec("10.00")); !got.IsZero() {
		t.Errorf("negative spread = %s", got)
	}

	commission, net, err := CommissionSplit(dec("1000"), 2500)
	if err != nil || !commission.Equal(dec("250.00")) || !net.Equal(dec("750.00")) {
		t.Errorf("split = %s / %s, %v", commission, net, err)
	}
}

func TestCalculatorsRejectOutOfRangeRates(t *testing.T) {
	bad := MaxRateBps + 1
	start := civil.Date{Year: 2024, Month: 1, Day: 1}
	checks := map[string]error{}
	_, checks["subscription"] = SubscriptionFee(dec("1"), bad, nil)
	_, checks["management"] = ManagementFee(dec("1"), bad, 1)
	_, checks["pro_rata"] = ProRataManagementFee(dec("1"), -1, start, start, 365)
	_, checks["performance"] = PerformanceFee(dec("1"), dec("1"), dec("2"), bad)
	_, checks["hurdle"] = PerformanceFeeWithHurdle(dec("1"), dec("2"), 2000, bad, dec("1"))
	_, checks["tiered"] = TieredPerformanceFee(dec("1"), dec("2"), []Tier{{RateBps: bad}})
	_, checks["commission"] = CommissionOnFee(dec("1"), bad)
	for name, err := range checks {
		if !errors.Is(err, ErrValidation) {
			t.Errorf("%s: expected validation error, got %v", name, err)
		}
	}
}

func TestMonotonicInRate(t *testing.T) {
	start := civil.Date{Year: 2024, Month: 1, Day: 1}
	end := start.AddDays(180)
	calcs := map[string]func(Rate) (decimal.Decimal, error){
		"subscription": func(r Rate) (decimal.Decimal, error) { return SubscriptionFee(dec("123456.78"), r, nil) },
		"management":   func(r Rate) (decimal.Decimal, error) { return ManagementFee(dec("123456.78"), r, 2) },
		"pro_rata": func(r Rate) (decimal.Decimal, error) {
			return ProRataManagementFee(dec("123456.78"), r, start, end, 365)
		},
		"performance": func(r Rate) (decimal.Decimal, error) {
			return PerformanceFee(dec("1500"), dec("10.01"), dec("17.33"), r)
		},
		"hurdle": func(r Rate) (decimal.Decimal, error) {
			return PerformanceFeeWithHurdle(dec("1000000"), dec("2750000"), r, 800, dec("3"))
		},
		"tiered": func(r Rate) (decimal.Decimal, error) {
			return TieredPerformanceFee(dec("1000000"), dec("2750000"), []Tier{{RateBps: r, ThresholdMultiplier: decPtr("2")}, {RateBps: r}})
		},
		"commission": func(r Rate) (decimal.Decimal, error) { return CommissionOnFee(dec("9876.54"), r) },
	}
	for name, fn := range calcs {
		prev := decimal.Zero
		for r := Rate(0); r <= 20000; r += 37 {
			got, err := fn(r)
			if err != nil {
				t.Fatalf("%s(%s): %v", name, r, err)
			}
			if got.IsNegative() {
				t.Fatalf("%s(%s) negative: %s", name, r, got)
			}
			if got.LessThan(prev) {
				t.Fatalf("%s not monotonic at %s: %s < %s", name, r, got, prev)
			}
			prev = got
		}
	}
}

func TestCalculateDispatch(t *testing.T) {
	start := civil.Date{Year: 2024, Month: 1, Day: 1}
	end := start.AddDays(90)

	tests := []struct {
		name      string
		component *FeeComponent
		inputs    FeeInputs
		want      string
		wantErr   error
	}{
		{
			name: "pro rata management",
			component: &FeeComponent{ID: "mgmt", Kind: FeeKindManagement, Method: CalcMethodProRata,
				Frequency: FrequencyQuarterly, RateBps: 150, Currency: "USD"},
			inputs: FeeInputs{InvestmentAmount: dec("500000"), PeriodStart: &start, PeriodEnd: &end},
			want:   "1869.86",
		},
		{
			name: "pro rata without period",
			component: &FeeComponent{ID: "mgmt", Kind: FeeKindManagement, Method: CalcMethodProRata,
				Frequency: FrequencyQuarterly, RateBps: 150, Currency: "USD"},
			inputs:  FeeInputs{InvestmentAmount: dec("500000")},
			wantErr: ErrValidation,
		},
		{
			name: "hurdle carry",
			component: &FeeComponent{ID: "carry", Kind: FeeKindPerformance, Method: CalcMethodHurdle,
				Frequency: FrequencyOnExit, RateBps: 2000, HurdleRateBps: ratePtr(800), Currency: "USD"},
			inputs: FeeInputs{ContributedCapital: dec("1000000"), ExitProceeds: dec("3000000"), YearsHeld: dec("4")},
			want:   "336000.00",
		},
		{
			name: "tiered hurdle carry",
			component: &FeeComponent{ID: "carry", Kind: FeeKindPerformance, Method: CalcMethodHurdle,
				Frequency: FrequencyOnExit, RateBps: 2000, HurdleRateBps: ratePtr(800), Currency: "USD",
				TierThresholdMultiplier: decPtr("2.0"),
				NextTier:                &FeeComponent{RateBps: 3000}},
			inputs: FeeInputs{ContributedCapital: dec("1000000"), ExitProceeds: dec("3000000"), YearsHeld: dec("4")},
			want:   "436000.00",
		},
		{
			name: "high water mark ignored when disabled",
			component: &FeeComponent{ID: "perf", Kind: FeeKindPerformance, Method: CalcMethodPerShare,
				Frequency: FrequencyOnExit, RateBps: 2000, Currency: "USD"},
			inputs: FeeInputs{NumShares: dec("100"), EntryPrice: dec("10"), ExitPrice: dec("15"), HighWaterMark: decPtr("14")},
			want:   "100.00",
		},
		{
			name: "spread markup",
			component: &FeeComponent{ID: "spread", Kind: FeeKindSpreadMarkup, Method: CalcMethodPerShare,
				Frequency: FrequencyOneTime, Currency: "USD"},
			inputs: FeeInputs{NumShares: dec("1000"), InvestorPrice: dec("12.50"), CostPrice: dec("10")},
			want:   "2500.00",
		},
		{
			name: "flat",
			component: &FeeComponent{ID: "admin", Kind: FeeKindFlat, Method: CalcMethodFlat,
				Frequency: FrequencyAnnual, FlatAmount: decPtr("1250"), Currency: "USD"},
			want: "1250.00",
		},
		{
			name: "method not applicable",
			component: &FeeComponent{ID: "bad", Kind: FeeKindSubscription, Method: CalcMethodHurdle,
				Frequency: FrequencyOneTime, Currency: "USD"},
			wantErr: ErrValidation,
		},
		{
			name: "negative input",
			component: &FeeComponent{ID: "sub", Kind: FeeKindSubscription, Method: CalcMethodPercentage,
				Frequency: FrequencyOneTime, RateBps: 200, Currency: "USD"},
			inputs:  FeeInputs{InvestmentAmount: dec("-1")},
			wantErr: ErrValidation,
		},
		{
			name: "bad currency",
			component: &FeeComponent{ID: "sub", Kind: FeeKindSubscription, Method: CalcMethodPercentage,
				Frequency: FrequencyOneTime, RateBps: 200, Currency: "US"},
			wantErr: ErrValidation,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Calculate(tt.component, tt.inputs)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Amount.Equal(dec(tt.want)) {
				t.Errorf("amount = %s, want %s", got.Amount, tt.want)
			}
			if got.Snapshot.ComponentID != tt.component.ID || got.Snapshot.RateBps != tt.component.RateBps {
				t.Errorf("snapshot not taken from component: %+v", got.Snapshot)
			}
		})
	}
}

func TestSnapshotIsDetached(t *testing.T) {
	c := &FeeComponent{ID: "carry", Kind: FeeKindPerformance, Method: CalcMethodTiered,
		Frequency: FrequencyOnExit, RateBps: 2000, Currency: "USD",
		TierThresholdMultiplier: decPtr("2.0"), NextTier: &FeeComponent{RateBps: 3000}}
	calc, err := Calculate(c, FeeInputs{ContributedCapital: dec("1000000"), ExitProceeds: dec("3000000")})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	c.RateBps = 9999
	*c.TierThresholdMultiplier = dec("5")
	c.NextTier.RateBps = 1

	if calc.Snapshot.RateBps != 2000 || calc.Snapshot.Tiers[1].RateBps != 3000 {
		t.Fatalf("snapshot followed component edit: %+v", calc.Snapshot)
	}
	if !calc.Snapshot.Tiers[0].ThresholdMultiplier.Equal(dec("2.0")) {
		t.Fatalf("snapshot threshold changed: %s", calc.Snapshot.Tiers[0].ThresholdMultiplier)
	}

	// 由快照还原后重算，结果与原计算一致
	again, err := Calculate(calc.Snapshot.Component("USD"), FeeInputs{ContributedCapital: dec("1000000"), ExitProceeds: dec("3000000")})
	if err != nil {
		t.Fatalf("recalculate: %v", err)
	}
	if !again.Amount.Equal(calc.Amount) {
		t.Errorf("recalculated %s, originally %s", again.Amount, calc.Amount)
	}
}

func TestComponentTierValidation(t *testing.T) {
	c := &FeeComponent{ID: "carry", Kind: FeeKindPerformance, Method: CalcMethodTiered,
		Frequency: FrequencyOnExit, RateBps: 2000, Currency: "USD", TierThresholdMultiplier: decPtr("0.5")}
	if err := c.Validate(); !errors.Is(err, ErrValidation) {
		t.Errorf("threshold <= 1 accepted")
	}

	c.TierThresholdMultiplier = decPtr("2")
	c.NextTier = c
	if err := c.Validate(); !errors.Is(err, ErrValidation) {
		t.Errorf("tier cycle accepted")
	}

	carry := &FeeComponent{ID: "carry", Kind: FeeKindPerformance, Method: CalcMethodHurdle,
		Frequency: FrequencyOnExit, RateBps: 2000, Currency: "USD", HurdleRateBps: ratePtr(800),
		TierThresholdMultiplier: decPtr("2"),
		NextTier: &FeeComponent{RateBps: 2500, TierThresholdMultiplier: decPtr("3")}}
	if err := carry.Validate(); err != nil {
		t.Fatalf("two hurdle tiers rejected: %v", err)
	}
	carry.NextTier.NextTier = &FeeComponent{RateBps: 3000}
	err := carry.Validate()
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "next_tier" {
		t.Errorf("third hurdle tier = %v, want next_tier validation error", err)
	}
}
