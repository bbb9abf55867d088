package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
)

// Seed a running marketd with demo accounts, a collection and a few
// listings. The asset registry and wallets live inside the server
// process, so seeding goes through the HTTP API rather than the
// database.
func main() {
	baseURL := "http://localhost:8080"
	if v := os.Getenv("MARKETD_URL"); v != "" {
		baseURL = v
	}

	sellerToken := setupAccount(baseURL, "seller1")
	buyerToken := setupAccount(baseURL, "buyer1")

	// Give the buyer spending money.
	post(baseURL, "/dev/faucet", buyerToken, map[string]interface{}{"amount": 10_000})

	// One collection, three listed tokens.
	resp := post(baseURL, "/dev/collections", sellerToken, map[string]interface{}{"name": "Doodle Dogs"})
	collection := resp["address"].(string)

	prices := []uint64{100, 250, 999}
	for _, price := range prices {
		resp = post(baseURL, "/dev/mint", sellerToken, map[string]interface{}{"collection": collection})
		tokenID := uint64(resp["token_id"].(float64))

		post(baseURL, "/dev/approve", sellerToken, map[string]interface{}{
			"collection": collection, "token_id": tokenID,
		})
		post(baseURL, "/listings", sellerToken, map[string]interface{}{
			"collection": collection, "token_id": tokenID, "price": price,
		})
		fmt.Printf("Listed token %d in %s at %d\n", tokenID, collection, price)
	}

	fmt.Println("Seeding complete.")
}

// setupAccount registers the user if needed and returns a login token.
func setupAccount(baseURL, username string) string {
	body, _ := json.Marshal(map[string]string{"username": username, "password": "password123"})
	resp, err := http.Post(baseURL+"/auth/register", "application/json", bytes.NewReader(body))
	if err != nil {
		log.Fatalf("Failed to register %s: %v", username, err)
	}
	resp.Body.Close()

	resp, err = http.Post(baseURL+"/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		log.Fatalf("Failed to login %s: %v", username, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("Login for %s returned %d", username, resp.StatusCode)
	}

	var out map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Fatalf("Failed to decode login response: %v", err)
	}
	return out["token"]
}

func post(baseURL, path, token string, payload map[string]interface{}) map[string]interface{} {
	body, _ := json.Marshal(payload)
	req, err := http.NewRequest("POST", baseURL+path, bytes.NewReader(body))
	if err != nil {
		log.Fatalf("Failed to build request for %s: %v", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("Request to %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Fatalf("Request to %s returned %d", path, resp.StatusCode)
	}

	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		log.Fatalf("Failed to decode response from %s: %v", path, err)
	}
	return out
}
