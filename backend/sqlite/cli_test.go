package sqlite_test

import (
	"encoding/json"
	"strings"
	"testing"

	"pantryat/internal/testutil"
)

// =============================================================================
// Item Command Tests
// =============================================================================

func TestItemAddCLI(t *testing.T) {
	cli := testutil.NewCLITest(t)

	stdout := cli.MustExecute("item", "add", "Rice", "-q", "5", "-u", "kg")

	testutil.AssertContains(t, stdout, "Added item: Rice (5 kg)")
	testutil.AssertResultCode(t, stdout, testutil.ResultActionCompleted)
}

func TestItemAddDefaultsToOneCLI(t *testing.T) {
	cli := testutil.NewCLITest(t)

	stdout := cli.MustExecute("item", "add", "Lemon")

	testutil.AssertContains(t, stdout, "Added item: Lemon (1)")
}

func TestItemAddDuplicateCLI(t *testing.T) {
	cli := testutil.NewCLITest(t)
	cli.MustExecute("item", "add", "Rice")

	stdout, stderr := cli.ExecuteAndFail("item", "add", "  rice ")

	testutil.AssertContains(t, stderr, "item already exists: Rice")
	testutil.AssertContains(t, stderr, "item update")
	testutil.AssertResultCode(t, stdout, testutil.ResultError)
}

func countItems(t *testing.T, cli *testutil.CLITest) (int, float64) {
	t.Helper()
	stdout := cli.MustExecute("--json", "item", "list")
	var resp struct {
		Items []struct {
			Quantity float64 `json:"quantity"`
		} `json:"items"`
		Count int `json:"count"`
	}
	if err := json.Unmarshal([]byte(stdout), &resp); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, stdout)
	}
	total := 0.0
	for _, it := range resp.Items {
		total += it.Quantity
	}
	return resp.Count, total
}

func TestItemAddKeepBothCLI(t *testing.T) {
	cli := testutil.NewCLITest(t)
	cli.MustExecute("item", "add", "Rice", "-q", "2")

	stdout := cli.MustExecute("item", "add", "rice", "-q", "3", "--keep-both")
	testutil.AssertContains(t, stdout, "Added item: rice (3)")

	count, total := countItems(t, cli)
	if count != 2 || total != 5 {
		t.Errorf("count = %d, total = %g; want 2 items holding 5", count, total)
	}
}

func TestItemAddMergeCLI(t *testing.T) {
	cli := testutil.NewCLITest(t)
	cli.MustExecute("item", "add", "Rice", "-q", "2", "-u", "kg")

	stdout := cli.MustExecute("item", "add", "RICE", "-q", "1.5", "--merge")
	testutil.AssertContains(t, stdout, "Updated item: Rice (3.5 kg)")
	testutil.AssertResultCode(t, stdout, testutil.ResultActionCompleted)

	count, total := countItems(t, cli)
	if count != 1 || total != 3.5 {
		t.Errorf("count = %d, total = %g; want 1 item holding 3.5", count, total)
	}
}

func TestItemAddMergeWithoutDuplicateCLI(t *testing.T) {
	cli := testutil.NewCLITest(t)

	stdout := cli.MustExecute("item", "add", "Oats", "--merge")
	testutil.AssertContains(t, stdout, "Added item: Oats (1)")
}

func TestItemAddKeepBothAndMergeConflictCLI(t *testing.T) {
	cli := testutil.NewCLITest(t)

	_, stderr := cli.ExecuteAndFail("item", "add", "Rice", "--merge", "--keep-both")
	testutil.AssertContains(t, stderr, "none of the others can be")
}

func TestItemAddValidationCLI(t *testing.T) {
	cli := testutil.NewCLITest(t)

	_, stderr := cli.ExecuteAndFail("item", "add", "Rice", "--quantity=-1")
	testutil.AssertContains(t, stderr, "invalid quantity")

	_, stderr = cli.ExecuteAndFail("item", "add", "Rice", "-e", "soon")
	testutil.AssertContains(t, stderr, "invalid date: soon")

	_, stderr = cli.ExecuteAndFail("item", "add", "   ")
	testutil.AssertContains(t, stderr, "name is required")

	stdout := cli.MustExecute("item", "list")
	testutil.AssertContains(t, stdout, "No items")
}

func TestItemListCLI(t *testing.T) {
	cli := testutil.NewCLITest(t)
	t.Setenv("PANTRYAT_LOW_STOCK_DEFAULT", "")
	cli.MustExecute("item", "add", "Rice", "-q", "5", "-u", "kg", "-e", "2030-01-31")
	cli.MustExecute("item", "add", "Salt", "-q", "0.5", "-u", "kg")

	stdout := cli.MustExecute("item", "list")

	testutil.AssertContains(t, stdout, "NAME")
	testutil.AssertContains(t, stdout, "5 kg")
	testutil.AssertContains(t, stdout, "2030-01-31")
	for _, line := range strings.Split(stdout, "\n") {
		if strings.HasPrefix(line, "Salt") && !strings.Contains(line, "(low)") {
			t.Errorf("Salt should be flagged low: %q", line)
		}
		if strings.HasPrefix(line, "Rice") && strings.Contains(line, "(low)") {
			t.Errorf("Rice should not be flagged low: %q", line)
		}
	}
	testutil.AssertResultCode(t, stdout, testutil.ResultInfoOnly)

	// bare 'item' lists too
	stdout = cli.MustExecute("item")
	testutil.AssertContains(t, stdout, "Salt")
}

func TestItemListJSONCLI(t *testing.T) {
	cli := testutil.NewCLITest(t)
	t.Setenv("PANTRYAT_LOW_STOCK_DEFAULT", "")
	cli.MustExecute("category", "add", "Grains")
	cli.MustExecute("item", "add", "Rice", "-q", "5", "-u", "kg", "-c", "grains", "-t", "6")

	stdout := cli.MustExecute("--json", "item", "list")

	var resp struct {
		Items []struct {
			Name              string   `json:"name"`
			Quantity          float64  `json:"quantity"`
			Unit              string   `json:"unit"`
			Category          string   `json:"category"`
			LowStockThreshold *float64 `json:"low_stock_threshold"`
			Low               bool     `json:"low"`
		} `json:"items"`
		Count  int    `json:"count"`
		Result string `json:"result"`
	}
	if err := json.Unmarshal([]byte(stdout), &resp); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, stdout)
	}
	if resp.Count != 1 || resp.Result != testutil.ResultInfoOnly {
		t.Fatalf("unexpected response: %+v", resp)
	}
	it := resp.Items[0]
	if it.Name != "Rice" || it.Quantity != 5 || it.Unit != "kg" || it.Category != "Grains" {
		t.Errorf("unexpected item: %+v", it)
	}
	if it.LowStockThreshold == nil || *it.LowStockThreshold != 6 || !it.Low {
		t.Errorf("threshold not applied: %+v", it)
	}
}

func TestItemUpdateCLI(t *testing.T) {
	cli := testutil.NewCLITest(t)
	cli.MustExecute("item", "add", "Rice", "-q", "5", "-u", "kg")

	stdout := cli.MustExecute("item", "update", "rice", "-q", "2.5")
	testutil.AssertContains(t, stdout, "Updated item: Rice (2.5 kg)")
	testutil.AssertResultCode(t, stdout, testutil.ResultActionCompleted)

	stdout = cli.MustExecute("item", "update", "Rice", "--name", "Brown Rice", "-u", "g")
	testutil.AssertContains(t, stdout, "Updated item: Brown Rice (2.5 g)")

	stdout = cli.MustExecute("item", "list")
	testutil.AssertContains(t, stdout, "Brown Rice")
}

func TestItemUpdateErrorsCLI(t *testing.T) {
	cli := testutil.NewCLITest(t)
	cli.MustExecute("item", "add", "Rice")
	cli.MustExecute("item", "add", "Beans")

	_, stderr := cli.ExecuteAndFail("item", "update", "Pasta", "-q", "1")
	testutil.AssertContains(t, stderr, "item not found: Pasta")

	_, stderr = cli.ExecuteAndFail("item", "update", "Rice", "--name", "BEANS")
	testutil.AssertContains(t, stderr, "item already exists: Beans")

	_, stderr = cli.ExecuteAndFail("item", "update", "Rice", "-c", "Nowhere")
	testutil.AssertContains(t, stderr, "category not found: Nowhere")
}

func TestItemRemoveCLI(t *testing.T) {
	cli := testutil.NewCLITest(t)
	cli.MustExecute("item", "add", "Rice")

	stdout := cli.MustExecute("item", "rm", "RICE")
	testutil.AssertContains(t, stdout, "Removed item: Rice")
	testutil.AssertResultCode(t, stdout, testutil.ResultActionCompleted)

	_, stderr := cli.ExecuteAndFail("item", "remove", "Rice")
	testutil.AssertContains(t, stderr, "item not found: Rice")
}

func TestItemLowCLI(t *testing.T) {
	cli := testutil.NewCLITest(t)
	t.Setenv("PANTRYAT_LOW_STOCK_DEFAULT", "")
	cli.MustExecute("item", "add", "Rice", "-q", "5")
	cli.MustExecute("item", "add", "Salt", "-q", "0.5")
	cli.MustExecute("item", "add", "Flour", "-q", "3", "-t", "5")

	stdout := cli.MustExecute("item", "low")
	testutil.AssertContains(t, stdout, "Salt")
	testutil.AssertContains(t, stdout, "Flour")
	testutil.AssertNotContains(t, stdout, "Rice")

	t.Setenv("PANTRYAT_LOW_STOCK_DEFAULT", "10")
	stdout = cli.MustExecute("item", "low")
	testutil.AssertContains(t, stdout, "Rice")
}

func TestItemLowEmptyCLI(t *testing.T) {
	cli := testutil.NewCLITest(t)
	t.Setenv("PANTRYAT_LOW_STOCK_DEFAULT", "")
	cli.MustExecute("item", "add", "Rice", "-q", "5")

	stdout := cli.MustExecute("item", "low")
	testutil.AssertContains(t, stdout, "No low items")
}

func TestItemExpiringCLI(t *testing.T) {
	cli := testutil.NewCLITest(t)
	cli.MustExecute("item", "add", "Milk", "-e", "+1d")
	cli.MustExecute("item", "add", "Yogurt", "--expires=-2d")
	cli.MustExecute("item", "add", "Rice", "-e", "+30d")
	cli.MustExecute("item", "add", "Salt")

	stdout := cli.MustExecute("item", "expiring")
	testutil.AssertContains(t, stdout, "Milk")
	testutil.AssertContains(t, stdout, "Yogurt")
	testutil.AssertNotContains(t, stdout, "Rice")
	testutil.AssertNotContains(t, stdout, "Salt")

	stdout = cli.MustExecute("item", "expiring", "--days", "60")
	testutil.AssertContains(t, stdout, "Rice")
}

// =============================================================================
// Category Command Tests
// =============================================================================

func TestCategoryLifecycleCLI(t *testing.T) {
	cli := testutil.NewCLITest(t)

	stdout := cli.MustExecute("category", "list")
	testutil.AssertContains(t, stdout, "No categories")

	stdout = cli.MustExecute("category", "add", "Spices", "--color", "#ff8800")
	testutil.AssertContains(t, stdout, "Category: Spices")
	testutil.AssertResultCode(t, stdout, testutil.ResultActionCompleted)

	cli.MustExecute("item", "add", "Pepper", "-c", "spices")
	stdout = cli.MustExecute("item", "list")
	testutil.AssertContains(t, stdout, "Spices")

	stdout = cli.MustExecute("category", "rm", "Spices")
	testutil.AssertContains(t, stdout, "Removed category: Spices")

	// the item stays, uncategorized
	stdout = cli.MustExecute("item", "list")
	testutil.AssertContains(t, stdout, "Pepper")
	testutil.AssertNotContains(t, stdout, "Spices")
}

func TestCategoryAddIsIdempotentCLI(t *testing.T) {
	cli := testutil.NewCLITest(t)
	cli.MustExecute("category", "add", "Spices")
	cli.MustExecute("category", "add", "SPICES")

	stdout := cli.MustExecute("--json", "category", "list")
	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal([]byte(stdout), &resp); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, stdout)
	}
	if resp.Count != 1 {
		t.Errorf("expected 1 category, got %d", resp.Count)
	}
}

func TestItemWithUnknownCategoryCLI(t *testing.T) {
	cli := testutil.NewCLITest(t)

	_, stderr := cli.ExecuteAndFail("item", "add", "Pepper", "-c", "Spices")
	testutil.AssertContains(t, stderr, "category not found: Spices")
	testutil.AssertContains(t, stderr, `category add "Spices"`)
}
