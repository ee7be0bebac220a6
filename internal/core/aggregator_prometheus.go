package core

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector exposes aggregator figures as gauges computed on scrape.
type PrometheusCollector struct {
	agg *Aggregator

	listings     *prometheus.Desc
	claims       *prometheus.Desc
	deliveries   *prometheus.Desc
	available    *prometheus.Desc
	wasteReduced *prometheus.Desc
	foodDonated  *prometheus.Desc
	co2Saved     *prometheus.Desc
	meals        *prometheus.Desc
	recipients   *prometheus.Desc
	monetary     *prometheus.Desc
}

var _ prometheus.Collector = (*PrometheusCollector)(nil)

// NewPrometheusCollector builds a collector over agg.
func NewPrometheusCollector(agg *Aggregator) *PrometheusCollector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("foodshare", "", name), help, labels, nil)
	}
	return &PrometheusCollector{
		agg:          agg,
		listings:     desc("listings", "Listings by status.", "status"),
		claims:       desc("claims", "Claims by status.", "status"),
		deliveries:   desc("deliveries", "Deliveries by status.", "status"),
		available:    desc("available_quantity", "Quantity offered by available listings."),
		wasteReduced: desc("waste_reduced", "Reported waste reduced."),
		foodDonated:  desc("food_donated", "Reported food donated."),
		co2Saved:     desc("co2_saved", "Reported CO2 saved."),
		meals:        desc("meals_provided", "Reported meals provided."),
		recipients:   desc("recipients_benefited", "Reported recipients benefited."),
		monetary:     desc("monetary_value", "Reported monetary value of rescued food."),
	}
}

// Describe implements prometheus.Collector.
func (c *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{c.listings, c.claims, c.deliveries, c.available, c.wasteReduced, c.foodDonated, c.co2Saved, c.meals, c.recipients, c.monetary} {
		ch <- d
	}
}

// Collect implements prometheus.Collector. Every series of one scrape comes
// from the same committed snapshot.
func (c *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	dashboard := c.agg.Dashboard()
	emitCounts := func(desc *prometheus.Desc, counts StatusCounts) {
		for status, n := range counts.Counts {
			ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(n), status)
		}
	}
	emitCounts(c.listings, dashboard.Listings)
	emitCounts(c.claims, dashboard.Claims)
	emitCounts(c.deliveries, dashboard.Deliveries)

	gauge := func(desc *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, v)
	}
	impact := dashboard.Impact
	gauge(c.available, dashboard.AvailableQuantity)
	gauge(c.wasteReduced, impact.WasteReduced)
	gauge(c.foodDonated, impact.FoodDonated)
	gauge(c.co2Saved, impact.CO2Saved)
	gauge(c.meals, float64(impact.MealsProvided))
	gauge(c.recipients, float64(impact.RecipientsBenefited))
	gauge(c.monetary, impact.MonetaryValue.InexactFloat64())
}
