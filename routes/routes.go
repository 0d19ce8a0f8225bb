// routes/routes.go
package routes

import (
	"go-event-payments/controllers"
	"go-event-payments/middleware"

	"github.com/gorilla/mux"
)

// RegisterRoutes sets up all the routes for the application
func RegisterRoutes(router *mux.Router, productController *controllers.ProductController, paymentController *controllers.PaymentController, webhookController *controllers.WebhookController) {
	// Webhook routes, authenticated by the notification sender
	router.HandleFunc("/webhooks/payments", webhookController.HandleProcessorEvent).Methods("POST")
	router.HandleFunc("/webhooks/update_status", webhookController.HandleStatusMirror).Methods("POST")

	// Product routes
	router.HandleFunc("/products", productController.GetProducts).Methods("GET")
	router.HandleFunc("/products/{id}", productController.GetProductByID).Methods("GET")

	// Admin routes
	admin := router.PathPrefix("/products").Subrouter()
	admin.Use(middleware.AuthMiddleware)
	admin.Use(middleware.AdminMiddleware)
	admin.HandleFunc("", productController.CreateProduct).Methods("POST")
	admin.HandleFunc("/{id}", productController.UpdateProduct).Methods("PUT")
	admin.HandleFunc("/{id}", productController.DeleteProduct).Methods("DELETE")

	// Payment routes
	protected := router.PathPrefix("/").Subrouter()
	protected.Use(middleware.AuthMiddleware)
	protected.HandleFunc("/payments", paymentController.CreatePayment).Methods("POST")
	protected.HandleFunc("/payments", paymentController.GetPayments).Methods("GET")
	protected.HandleFunc("/payments/preview", paymentController.PreviewPayment).Methods("POST")
	protected.HandleFunc("/application_fee", paymentController.CreateApplicationFee).Methods("POST")
}
