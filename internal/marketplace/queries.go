package marketplace

// Operation names double as gateway op labels and schema keys.
const (
	OpProducts       = "S_products"
	OpCompetition    = "S_competition"
	OpCalculatePrice = "S_calculatePrice"
	OpStock          = "S_stock"
	OpUpdateAuction  = "S_updateAuction"
)

const productsBySlugsQuery = `
query S_productsBySlugs($slugs: [String!], $first: Int) {
  S_products(slugs: $slugs, first: $first) {
    edges {
      node {
        id
        name
        slug
        isSellable
      }
    }
  }
}`

const competitionQuery = `
query S_competition($productIds: [S_Uuid!]!) {
  S_competition(productIds: $productIds) {
    productId
    competition {
      totalCount
      edges {
        node {
          isInStock
          merchantName
          belongsToYou
          price(currency: eur) {
            amount
            currency
          }
        }
      }
    }
  }
}`

const calculatePriceQuery = `
query S_calculatePrice($input: S_API_CalculatePriceInput!) {
  S_calculatePrice(input: $input) {
    priceWithCommission {
      amount
      currency
    }
    priceWithoutCommission {
      amount
      currency
    }
  }
}`

const stockQuery = `
query S_stock($stockId: S_Uuid) {
  S_stock(stockId: $stockId) {
    edges {
      node {
        id
        product {
          id
          name
        }
        price {
          amount
          currency
        }
        priceUpdateQuota {
          quota
          nextFreeIn
          totalFree
        }
      }
    }
  }
}`

const updateAuctionMutation = `
mutation S_updateAuction($input: S_API_UpdateAuctionInput!) {
  S_updateAuction(input: $input) {
    success
    actionId
  }
}`
